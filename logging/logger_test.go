package logging

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/grovetools/airlock/config"
	"github.com/sirupsen/logrus"
)

func resetLoggers() {
	loggersMu.Lock()
	loggers = make(map[string]*logrus.Entry)
	loggersMu.Unlock()
}

func TestNewLogger(t *testing.T) {
	t.Setenv("AIRLOCK_HOME", t.TempDir())
	t.Cleanup(resetLoggers)

	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}
	if logger.Data["component"] != "test-component" {
		t.Errorf("Expected component to be 'test-component', got %v", logger.Data["component"])
	}
	if NewLogger("test-component") != logger {
		t.Error("Expected the same entry for the same component")
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "turn started",
				Data: logrus.Fields{
					"component": "agent",
					"channel":   "c1",
				},
			},
			want: []string{"[INFO]", "agent", "turn started", "channel=c1"},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Level:   logrus.WarnLevel,
				Message: "abnormal exit",
				Data: logrus.Fields{
					"component": "agent",
				},
			},
			want:    []string{"[WARN]", "abnormal exit"},
			notWant: []string{"agent]"},
		},
		{
			name:   "caller information with function name",
			config: FormatConfig{},
			entry: func() *logrus.Entry {
				logger := logrus.New()
				logger.SetReportCaller(true)
				return &logrus.Entry{
					Logger:  logger,
					Level:   logrus.InfoLevel,
					Message: "with caller",
					Data:    logrus.Fields{"component": "bridge"},
					Caller: &runtime.Frame{
						File:     "/path/to/server.go",
						Line:     42,
						Function: "github.com/grovetools/airlock/pkg/bridge.(*Server).handle",
					},
				}
			}(),
			want: []string{"[server.go:42 bridge.(*Server).handle]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TextFormatter{Config: tt.config}
			output, err := formatter.Format(tt.entry)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			outputStr := string(output)
			for _, want := range tt.want {
				if !strings.Contains(outputStr, want) {
					t.Errorf("Expected output to contain '%s', got: %s", want, outputStr)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(outputStr, notWant) {
					t.Errorf("Expected output NOT to contain '%s', got: %s", notWant, outputStr)
				}
			}
		})
	}
}

func TestFormatterSortsFields(t *testing.T) {
	formatter := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	out, err := formatter.Format(&logrus.Entry{
		Level:   logrus.InfoLevel,
		Message: "m",
		Data:    logrus.Fields{"zeta": 1, "alpha": 2, "mid": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(out), "m alpha=2 mid=3 zeta=1\n") {
		t.Errorf("fields not sorted: %q", out)
	}
}

func TestRedactHook(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&TextFormatter{Config: FormatConfig{DisableTimestamp: true}})
	logger.AddHook(&RedactHook{})

	logger.WithFields(logrus.Fields{
		"GH_TOKEN":          "ghp_real",
		"anthropic_api_key": "sk-real",
		"command":           "gh",
	}).Info("spawning")

	out := buf.String()
	if strings.Contains(out, "ghp_real") || strings.Contains(out, "sk-real") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "command=gh") {
		t.Errorf("non-secret field missing: %s", out)
	}
}

func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("AIRLOCK_HOME", t.TempDir())
	t.Setenv("AIRLOCK_LOG_LEVEL", "debug")
	t.Setenv("AIRLOCK_LOG_CALLER", "true")
	resetLoggers()
	t.Cleanup(resetLoggers)

	logger := NewLogger("env-test")

	if logger.Logger.Level != logrus.DebugLevel {
		t.Errorf("Expected debug level from env var, got %v", logger.Logger.Level)
	}
	if !logger.Logger.ReportCaller {
		t.Error("Expected caller reporting to be enabled from env var")
	}
}

func TestPrettyViolation(t *testing.T) {
	var buf bytes.Buffer
	NewPrettyLogger().WithWriter(&buf).Violation("open /root/.ssh/id_rsa: operation not permitted")

	out := buf.String()
	if !strings.Contains(out, "sandbox blocked") || !strings.Contains(out, "/root/.ssh/id_rsa") {
		t.Errorf("unexpected violation output: %s", out)
	}
}

func TestForConfigReadsLoggingSection(t *testing.T) {
	t.Setenv("AIRLOCK_LOG_LEVEL", "")
	cfg := config.Default()
	cfg.Extensions = map[string]interface{}{
		"logging": map[string]interface{}{
			"level":  "warn",
			"format": map[string]interface{}{"preset": "json"},
		},
	}

	entry := ForConfig("bridge", cfg)
	if entry.Logger.Level != logrus.WarnLevel {
		t.Errorf("Expected warn level from config, got %v", entry.Logger.Level)
	}
	if _, ok := entry.Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected JSON formatter, got %T", entry.Logger.Formatter)
	}
	if ForConfig("bridge", cfg) == entry {
		t.Error("ForConfig loggers are not cached")
	}
}

func TestSettingsFromMalformedSection(t *testing.T) {
	cfg := config.Default()
	cfg.Extensions = map[string]interface{}{"logging": "loud"}

	if got := SettingsFrom(cfg); got.Level != "" {
		t.Errorf("Expected defaults for a malformed section, got %+v", got)
	}
}
