// Package definition holds small cross-cutting pieces shared by the rest of
// the chatmesh packages: the logging facade and protocol-version constants.
package definition

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every chatmesh component talks to. Keeping
// it as an interface lets tests swap in a silent implementation without
// touching call sites.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	WithField(key string, value interface{}) Logger
}

// DefaultLogger adapts a logrus.Entry to the Logger interface. logrus is
// already part of the dependency lineage this package was grown from, so
// it replaces the bare standard-library logger the earliest iteration used.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a logger writing to w as JSON,
// suitable for the LOG_FILE destination described in the CLI surface.
func NewDefaultLogger(w io.Writer, debug bool) *DefaultLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &DefaultLogger{entry: logrus.NewEntry(l)}
}

// NewStderrLogger is a convenience constructor for tests and the plain UI,
// where a LOG_FILE has not been configured.
func NewStderrLogger(debug bool) *DefaultLogger {
	return NewDefaultLogger(os.Stderr, debug)
}

func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return &DefaultLogger{entry: l.entry.WithField(key, value)}
}
