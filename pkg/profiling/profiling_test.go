package profiling

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderDisabledIsSilent(t *testing.T) {
	r := &Recorder{}
	r.Start("ignored").Stop()

	var buf bytes.Buffer
	r.Summarize(&buf)
	assert.Empty(t, buf.String())
}

func TestRecorderAccumulatesConcurrentPhases(t *testing.T) {
	r := &Recorder{}
	r.Enable()

	r.Start("load config").Stop()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Start("turn")
			s.Stop()
			s.Stop()
		}()
	}
	wg.Wait()

	var buf bytes.Buffer
	r.Summarize(&buf)
	out := buf.String()
	assert.Contains(t, out, "- turn x4")
	assert.Less(t, strings.Index(out, "load config"), strings.Index(out, "turn x4"))
}

func TestCobraProfilerTiming(t *testing.T) {
	root := &cobra.Command{
		Use: "root",
		RunE: func(cmd *cobra.Command, args []string) error {
			Start("work").Stop()
			return nil
		},
	}
	NewCobraProfiler().Attach(root)

	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetArgs([]string{"--timing"})
	require.NoError(t, root.Execute())
	assert.Contains(t, stderr.String(), "- work")
}
