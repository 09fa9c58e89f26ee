package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

// NewLogger returns the logger for a component, configured from the nearest
// airlock.yml. Loggers are cached per component.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	var settings Config
	if cfg, err := config.LoadDefault(); err == nil {
		settings = SettingsFrom(cfg)
	}
	entry := build(component, settings)
	loggers[component] = entry
	return entry
}

// ForConfig builds an uncached component logger from an already loaded
// configuration, so --config is honoured.
func ForConfig(component string, cfg *config.Config) *logrus.Entry {
	return build(component, SettingsFrom(cfg))
}

// SettingsFrom reads the `logging` extension section. A malformed section
// yields the defaults.
func SettingsFrom(cfg *config.Config) Config {
	var settings Config
	if cfg == nil {
		return settings
	}
	if err := cfg.UnmarshalExtension("logging", &settings); err != nil {
		logrus.Warnf("Failed to parse 'logging' config: %v", err)
		return Config{}
	}
	return settings
}

func build(component string, settings Config) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(settings.level())
	logger.SetReportCaller(os.Getenv("AIRLOCK_LOG_CALLER") == "true" || settings.ReportCaller)
	logger.SetFormatter(settings.formatter())
	logger.AddHook(&RedactHook{})
	logger.SetOutput(settings.output(component, logger))
	return logger.WithField("component", component)
}

// level prefers AIRLOCK_LOG_LEVEL over the file.
func (c Config) level() logrus.Level {
	name := c.Level
	if env := os.Getenv("AIRLOCK_LOG_LEVEL"); env != "" {
		name = env
	}
	if name == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (c Config) formatter() logrus.Formatter {
	switch c.Format.Preset {
	case "json":
		return &logrus.JSONFormatter{}
	case "simple":
		return &TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}}
	default:
		return &TextFormatter{Config: c.Format}
	}
}

// output combines the optional file sink with stderr. In auto mode an
// interactive terminal only sees structured logs at debug level; the pretty
// output owns it otherwise.
func (c Config) output(component string, logger *logrus.Logger) io.Writer {
	var writers []io.Writer

	if c.File.Enabled {
		if file, err := openLogFile(component, c.File.Path); err != nil {
			logger.Warnf("Failed to open log file: %v", err)
		} else {
			writers = append(writers, file)
		}
	}

	toStderr := false
	switch c.Format.StructuredToStderr {
	case "always":
		toStderr = true
	case "never":
	default:
		interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		toStderr = logger.GetLevel() >= logrus.DebugLevel || !interactive
	}
	if toStderr {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		return io.Discard
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

// openLogFile appends to path, defaulting to a dated file per component
// under the state directory.
func openLogFile(component, path string) (*os.File, error) {
	if path == "" {
		path = filepath.Join(paths.LogDir(), fmt.Sprintf("%s-%s.log", component, time.Now().Format("2006-01-02")))
	}
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
