package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

// CobraProfiler adds --cpu-profile, --mem-profile and --timing to a command
// tree.
type CobraProfiler struct {
	cpuFile *os.File
	cpuPath string
	memPath string
	timing  bool
}

// NewCobraProfiler creates a profiler. Call Attach on the root command.
func NewCobraProfiler() *CobraProfiler {
	return &CobraProfiler{}
}

// Attach registers the flags and hooks on root. Existing persistent hooks
// still run.
func (p *CobraProfiler) Attach(root *cobra.Command) {
	root.PersistentFlags().StringVar(&p.cpuPath, "cpu-profile", "", "Write a CPU profile to file")
	root.PersistentFlags().StringVar(&p.memPath, "mem-profile", "", "Write a heap profile to file")
	root.PersistentFlags().BoolVar(&p.timing, "timing", false, "Print phase timings on exit")

	preRun := root.PersistentPreRunE
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := p.start(); err != nil {
			return err
		}
		if preRun != nil {
			return preRun(cmd, args)
		}
		return nil
	}
	postRun := root.PersistentPostRun
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if postRun != nil {
			postRun(cmd, args)
		}
		p.finish(cmd)
	}
}

func (p *CobraProfiler) start() error {
	if p.timing {
		Enable()
	}
	if p.cpuPath == "" {
		return nil
	}
	f, err := os.Create(p.cpuPath)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// finish writes to the command's stderr so stdout stays machine readable.
func (p *CobraProfiler) finish(cmd *cobra.Command) {
	out := cmd.ErrOrStderr()
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
		fmt.Fprintf(out, "CPU profile written to %s\n", p.cpuPath)
	}

	if p.memPath != "" {
		f, err := os.Create(p.memPath)
		if err != nil {
			fmt.Fprintf(out, "could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(out, "could not write memory profile: %v\n", err)
			} else {
				fmt.Fprintf(out, "Memory profile written to %s\n", p.memPath)
			}
			f.Close()
		}
	}

	if p.timing {
		Summarize(out)
	}
}
