package agent

import "strings"

var violationMarkers = []string{
	"operation not permitted",
	"permission denied",
	"[blocked]",
}

// Noise some sandboxed shells print on every start.
var benignMarkers = []string{
	"/dev/tty",
	"no tty present",
	"not a tty",
	"getcwd:",
	"inappropriate ioctl for device",
}

// DetectViolation reports whether a stderr line signals that the sandbox
// blocked an action. Matching is case-insensitive.
func DetectViolation(line string) bool {
	lower := strings.ToLower(line)
	for _, benign := range benignMarkers {
		if strings.Contains(lower, benign) {
			return false
		}
	}
	for _, marker := range violationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// tail keeps the last n lines written to it.
type tail struct {
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) snapshot() []string {
	return append([]string(nil), t.lines...)
}
