package command

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a brokered host command.
	DefaultTimeout = 10 * time.Minute

	// MaxTimeout is the maximum allowed timeout.
	MaxTimeout = 30 * time.Minute
)

var bareName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// SafeBuilder creates host commands for a fixed allow-list of executables.
type SafeBuilder struct {
	defaultTimeout time.Duration
	allowed        map[string]bool
	validators     map[string]func(string) error
	executor       Executor
}

// NewSafeBuilder creates a SafeBuilder using a RealExecutor.
func NewSafeBuilder(allowed []string) *SafeBuilder {
	return NewSafeBuilderWithExecutor(&RealExecutor{}, allowed)
}

// NewSafeBuilderWithExecutor creates a SafeBuilder with a custom Executor.
func NewSafeBuilderWithExecutor(exec Executor, allowed []string) *SafeBuilder {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &SafeBuilder{
		defaultTimeout: DefaultTimeout,
		allowed:        set,
		validators: map[string]func(string) error{
			"commandName": validateCommandName,
			"argument":    validateArgument,
			"envKey":      validateEnvKey,
		},
		executor: exec,
	}
}

// Allowed reports whether name is on the allow-list.
func (sb *SafeBuilder) Allowed(name string) bool {
	return sb.allowed[name]
}

// validateCommandName accepts bare executable names only. A path would
// bypass the allow-list by pointing at a different binary.
func validateCommandName(name string) error {
	if name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if !bareName.MatchString(name) {
		return fmt.Errorf("invalid command name: %q", name)
	}
	return nil
}

func validateArgument(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("argument contains NUL byte")
	}
	return nil
}

func validateEnvKey(key string) error {
	if key == "" || strings.ContainsAny(key, "=\x00") {
		return fmt.Errorf("invalid environment key: %q", key)
	}
	return nil
}

// Command is a validated command with its own deadline.
type Command struct {
	ctx      context.Context
	cancel   context.CancelFunc
	name     string
	args     []string
	timeout  time.Duration
	executor Executor
}

// Build validates name and args and returns a command bound to ctx plus
// the builder's timeout. Callers must call Release once the process exits.
func (sb *SafeBuilder) Build(ctx context.Context, name string, args ...string) (*Command, error) {
	if err := validateCommandName(name); err != nil {
		return nil, err
	}
	if !sb.allowed[name] {
		return nil, fmt.Errorf("command %q is not allowed", name)
	}
	for _, arg := range args {
		if err := validateArgument(arg); err != nil {
			return nil, err
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, sb.defaultTimeout)
	return &Command{
		ctx:      timeoutCtx,
		cancel:   cancel,
		name:     name,
		args:     args,
		timeout:  sb.defaultTimeout,
		executor: sb.executor,
	}, nil
}

// WithTimeout replaces the command deadline, capped at MaxTimeout.
func (c *Command) WithTimeout(parent context.Context, timeout time.Duration) *Command {
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	c.cancel()
	c.ctx, c.cancel = context.WithTimeout(parent, timeout)
	c.timeout = timeout
	return c
}

// Timeout returns the effective deadline duration.
func (c *Command) Timeout() time.Duration {
	return c.timeout
}

// Validate runs a named validator against value.
func (sb *SafeBuilder) Validate(argType string, value string) error {
	validator, exists := sb.validators[argType]
	if !exists {
		return fmt.Errorf("no validator for argument type: %s", argType)
	}
	return validator(value)
}

// Exec creates the exec.Cmd.
func (c *Command) Exec() *exec.Cmd {
	return c.executor.CommandContext(c.ctx, c.name, c.args...) //nolint:gosec // SafeBuilder validates name and args
}

// Release frees the command's deadline timer.
func (c *Command) Release() {
	c.cancel()
}
