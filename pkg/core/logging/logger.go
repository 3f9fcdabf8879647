// Package logging builds the leveled loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// Config selects level and output format.
type Config struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console (default) or json
}

// New creates a logger writing to stderr.
func New(cfg Config) *log.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) *log.Logger {
	level := cfg.Level
	if level == "" {
		level = "info"
	}

	logger := &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "2006-01-02T15:04:05Z07:00",
	}

	if strings.EqualFold(cfg.Format, "json") {
		logger.Writer = &log.IOWriter{Writer: w}
	} else {
		logger.Writer = &log.ConsoleWriter{Writer: w, EndWithMessage: true}
	}
	return logger
}

// Nop returns a logger that discards everything. Used by tests and as the
// fallback when a component is built without a logger.
func Nop() *log.Logger {
	return &log.Logger{
		Level:  log.ErrorLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}

// Component returns a copy of logger tagged with component=name.
func Component(logger *log.Logger, name string) *log.Logger {
	if logger == nil {
		logger = Nop()
	}
	child := *logger
	ctx := append([]byte(nil), logger.Context...)
	child.Context = log.NewContext(ctx).Str("component", name).Value()
	return &child
}
