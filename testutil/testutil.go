// Package testutil holds helpers shared by package tests: fake agent
// executables, skip guards and short socket paths.
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grovetools/airlock/util/sanitize"
	"github.com/stretchr/testify/require"
)

// RequireSh skips the test if /bin/sh is not available.
func RequireSh(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// RequireGit skips the test if git is not on PATH.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// InitGitRepo initializes a git repository with one commit on main.
func InitGitRepo(t *testing.T, dir string) {
	t.Helper()
	RequireGit(t)

	RunGitCommand(t, dir, "init")
	RunGitCommand(t, dir, "config", "user.name", "Test User")
	RunGitCommand(t, dir, "config", "user.email", "test@example.com")

	testFile := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# Test Project\n"), 0600))

	RunGitCommand(t, dir, "add", ".")
	RunGitCommand(t, dir, "commit", "-m", "Initial commit")

	cmd := exec.Command("git", "branch", "-m", "main")
	cmd.Dir = dir
	_ = cmd.Run() // Branch may already be named main
}

// RunGitCommand runs a git command in the given directory.
func RunGitCommand(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to run git %v: %v\n%s", args, err, out)
	}
}

// RandomString generates a random hex string of the specified length.
func RandomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)[:length]
}

// WriteScript writes an executable /bin/sh script to dir/name and returns
// its path.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	RequireSh(t)

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
	return path
}

// FakeAgent writes an agent executable that prints each stdout line, then
// each stderr line, then exits with code. Its arguments are appended to
// dir/args.log, one invocation per line.
func FakeAgent(t *testing.T, dir string, stdout, stderr []string, code int) string {
	t.Helper()

	var b strings.Builder
	b.WriteString(`echo "$@" >> "` + filepath.Join(dir, "args.log") + `"` + "\n")
	for _, line := range stdout {
		b.WriteString("printf '%s\\n' " + sanitize.ShellQuote(line) + "\n")
	}
	for _, line := range stderr {
		b.WriteString("printf '%s\\n' " + sanitize.ShellQuote(line) + " >&2\n")
	}
	b.WriteString("exit " + strconv.Itoa(code) + "\n")
	return WriteScript(t, dir, "fake-agent", b.String())
}

// ReadArgsLog returns the invocations recorded by FakeAgent.
func ReadArgsLog(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "args.log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// SocketPath returns a Unix socket path short enough for the platform
// limit, removed when the test ends.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "al")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}
