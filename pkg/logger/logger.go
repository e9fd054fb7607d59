// Package logger provides the structured logger shared by every service.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Level     string
	Format    string
	Output    io.Writer
	Component string
}

// Logger wraps logrus so services share one logging surface.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from the supplied configuration. Unknown levels fall
// back to info and unknown formats to text.
func New(cfg Config) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	l := &Logger{Logger: base, component: strings.TrimSpace(cfg.Component)}
	if l.component != "" {
		base.AddHook(componentHook{component: l.component})
	}
	return l
}

// NewDefault returns an info-level text logger tagged with component.
func NewDefault(component string) *Logger {
	return New(Config{Level: "info", Component: component})
}

// Named returns a logger sharing this logger's level, formatter and output but
// tagged with a different component.
func (l *Logger) Named(component string) *Logger {
	base := logrus.New()
	base.SetLevel(l.GetLevel())
	base.SetFormatter(l.Formatter)
	base.SetOutput(l.Out)
	child := &Logger{Logger: base, component: component}
	if component != "" {
		base.AddHook(componentHook{component: component})
	}
	return child
}

// Component reports the component tag attached to every entry.
func (l *Logger) Component() string { return l.component }

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.component
	}
	return nil
}
