package command

import (
	"context"
	"testing"
	"time"
)

func TestValidateCommandName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"bare name", "git", false},
		{"with dash", "git-lfs", false},
		{"with dot", "gh.exe", false},
		{"empty", "", true},
		{"absolute path", "/usr/bin/git", true},
		{"relative path", "./git", true},
		{"shell metachar", "git;rm", true},
		{"leading dash", "-git", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCommandName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCommandName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEnvKey(t *testing.T) {
	sb := NewSafeBuilder(nil)

	if err := sb.Validate("envKey", "GH_TOKEN"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sb.Validate("envKey", "A=B"); err == nil {
		t.Error("expected error for key with '='")
	}
	if err := sb.Validate("unknown", "x"); err == nil {
		t.Error("expected error for unknown validator")
	}
}

func TestSafeBuilderBuild(t *testing.T) {
	rec := &RecordingExecutor{}
	sb := NewSafeBuilderWithExecutor(rec, []string{"git", "gh"})
	ctx := context.Background()

	t.Run("allowed command", func(t *testing.T) {
		cmd, err := sb.Build(ctx, "git", "status")
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		defer cmd.Release()

		if cmd.Timeout() != DefaultTimeout {
			t.Errorf("timeout = %v, want %v", cmd.Timeout(), DefaultTimeout)
		}
		execCmd := cmd.Exec()
		if len(execCmd.Args) != 2 || execCmd.Args[1] != "status" {
			t.Errorf("unexpected args: %v", execCmd.Args)
		}
		if calls := rec.Calls(); len(calls) != 1 || calls[0] != "git" {
			t.Errorf("executor calls = %v", calls)
		}
	})

	t.Run("not on allow-list", func(t *testing.T) {
		if _, err := sb.Build(ctx, "rm", "-rf", "/"); err == nil {
			t.Error("expected rm to be rejected")
		}
	})

	t.Run("NUL in argument", func(t *testing.T) {
		if _, err := sb.Build(ctx, "git", "a\x00b"); err == nil {
			t.Error("expected NUL argument to be rejected")
		}
	})

	t.Run("timeout cap", func(t *testing.T) {
		cmd, err := sb.Build(ctx, "gh")
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		defer cmd.Release()
		cmd.WithTimeout(ctx, time.Hour)
		if cmd.Timeout() != MaxTimeout {
			t.Errorf("timeout = %v, want %v", cmd.Timeout(), MaxTimeout)
		}
	})

	if !sb.Allowed("gh") || sb.Allowed("curl") {
		t.Error("Allowed() mismatch")
	}
}
