// Package profiling records wall-clock phases of a command and writes CPU
// and heap profiles on request.
package profiling

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Stopper ends a timed phase.
type Stopper interface {
	Stop()
}

type phase struct {
	name     string
	start    time.Time
	duration time.Duration
	calls    int
}

// Recorder accumulates phase timings. Phases with the same name add up, so
// it is safe to time work on several goroutines at once.
type Recorder struct {
	mu      sync.Mutex
	enabled bool
	started time.Time
	phases  map[string]*phase
}

var defaultRecorder = &Recorder{}

// Enable turns on the process-wide recorder.
func Enable() {
	defaultRecorder.Enable()
}

// Start times a phase on the process-wide recorder.
func Start(name string) Stopper {
	return defaultRecorder.Start(name)
}

// Summarize writes the process-wide recorder's phases to w.
func Summarize(w io.Writer) {
	defaultRecorder.Summarize(w)
}

// Enable starts recording. Calling it twice keeps the first start time.
func (r *Recorder) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return
	}
	r.enabled = true
	r.started = time.Now()
	r.phases = make(map[string]*phase)
}

// Start begins timing name. It is a no-op until Enable.
func (r *Recorder) Start(name string) Stopper {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return noopStopper{}
	}
	return &timing{r: r, name: name, start: time.Now()}
}

type timing struct {
	r     *Recorder
	name  string
	start time.Time
	once  sync.Once
}

func (t *timing) Stop() {
	t.once.Do(func() {
		t.r.add(t.name, t.start, time.Since(t.start))
	})
}

func (r *Recorder) add(name string, start time.Time, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.phases[name]
	if !ok {
		p = &phase{name: name, start: start}
		r.phases[name] = p
	}
	p.duration += d
	p.calls++
}

// Summarize prints each phase in first-start order with its share of the
// total run time.
func (r *Recorder) Summarize(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	total := time.Since(r.started)
	phases := make([]*phase, 0, len(r.phases))
	for _, p := range r.phases {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].start.Before(phases[j].start) })

	fmt.Fprintln(w, "\n--- Timing Profile ---")
	for _, p := range phases {
		pct := 0.0
		if total > 0 {
			pct = float64(p.duration) / float64(total) * 100
		}
		calls := ""
		if p.calls > 1 {
			calls = fmt.Sprintf(" x%d", p.calls)
		}
		fmt.Fprintf(w, "- %s%s (%v, %.1f%%)\n", p.name, calls, p.duration.Round(100*time.Microsecond), pct)
	}
	fmt.Fprintf(w, "total %v\n", total.Round(100*time.Microsecond))
	fmt.Fprintln(w, "--------------------")
}

type noopStopper struct{}

func (noopStopper) Stop() {}
