package errors

import (
	"fmt"
	"os/exec"
	"strings"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *AirlockError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *AirlockError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// InvalidName is returned when a folder binding sanitizes to nothing usable.
func InvalidName(name string) *AirlockError {
	return New(ErrCodeInvalidName, fmt.Sprintf("invalid folder name %q", name)).
		WithDetail("name", name)
}

// TurnInFlight is returned when a channel already has a running turn.
func TurnInFlight(channel string) *AirlockError {
	return New(ErrCodeTurnInFlight, fmt.Sprintf("a turn is already running on channel '%s'", channel)).
		WithDetail("channel", channel)
}

// SessionNotFound creates a session lookup failure error
func SessionNotFound(channel string) *AirlockError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("no session bound to channel '%s'", channel)).
		WithDetail("channel", channel)
}

// SpawnFailed creates an agent spawn failure error
func SpawnFailed(binary string, err error) *AirlockError {
	return Wrap(err, ErrCodeSpawnFailed, fmt.Sprintf("failed to start %s", binary)).
		WithDetail("binary", binary)
}

// SandboxViolation reports an action blocked by the isolation policy.
func SandboxViolation(description string) *AirlockError {
	return New(ErrCodeSandboxViolation, fmt.Sprintf("sandbox violation: %s", description)).
		WithDetail("blocked", description)
}

// AbnormalExit creates an error for a non-zero exit that was not caused by a violation
func AbnormalExit(code int, stderrTail []string) *AirlockError {
	e := New(ErrCodeAbnormalExit, fmt.Sprintf("agent exited with code %d", code)).
		WithDetail("exitCode", code)
	if len(stderrTail) > 0 {
		e = e.WithDetail("stderr", strings.Join(stderrTail, "\n"))
	}
	return e
}

// BridgeRejected creates a host bridge rejection error
func BridgeRejected(command, reason string) *AirlockError {
	return New(ErrCodeBridgeRejected, fmt.Sprintf("command '%s' rejected: %s", command, reason)).
		WithDetail("command", command)
}

// FetchRejected creates an error for an outbound fetch the bridge refused
func FetchRejected(target, reason string) *AirlockError {
	return New(ErrCodeBridgeRejected, fmt.Sprintf("fetch of '%s' rejected: %s", target, reason)).
		WithDetail("url", target)
}

// CommandFailed creates a command execution failure error
func CommandFailed(cmd string, err error) *AirlockError {
	airlockErr := Wrap(err, ErrCodeCommandFailed, fmt.Sprintf("command failed: %s", cmd)).
		WithDetail("command", cmd)

	// Extract exit code if available
	if exitErr, ok := err.(*exec.ExitError); ok {
		airlockErr = airlockErr.WithDetail("exitCode", exitErr.ExitCode())
	}

	return airlockErr
}
