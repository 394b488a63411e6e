// Package logger wraps logrus with the service's configuration conventions.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls level, format and destination of log output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"COIN_LOG_LEVEL"`
	Format     string `yaml:"format" env:"COIN_LOG_FORMAT"`
	Output     string `yaml:"output" env:"COIN_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"COIN_LOG_FILE_PREFIX"`
}

// Logger is a named logrus logger.
type Logger struct {
	*logrus.Logger
	name string
}

// New builds a logger from cfg. Unknown levels fall back to info, unknown
// formats to text and unknown outputs to stdout.
func New(cfg LoggingConfig) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	base.SetOutput(out)

	return &Logger{Logger: base, name: "coin"}, nil
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(name string) *Logger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	base.SetOutput(os.Stdout)
	return &Logger{Logger: base, name: name}
}

// Named returns a logger sharing the same sink that reports as component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger, name: name}
}

// Name is the component the logger reports as.
func (l *Logger) Name() string {
	return l.name
}

// Component returns an entry pre-populated with the component field.
func (l *Logger) Component() *logrus.Entry {
	return l.Logger.WithField("component", l.name)
}

func openOutput(cfg LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "coin"
		}
		if dir := filepath.Dir(prefix); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}
