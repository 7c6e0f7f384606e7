package types

import (
	"os"

	"github.com/sirupsen/logrus"
)

// logrusLogger backs the Logger interface with github.com/sirupsen/logrus.
// It plays the same role the teacher's definition.DefaultLogger plays for
// go-mcast, but reaches for the corpus's structured-logging library
// instead of wrapping the standard library's bare *log.Logger, since s4
// handlers want structured fields (key, uuid, pool) on every line.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger returns the logger used when no other Logger is
// supplied: plain-text formatting to stderr, info level by default.
func NewDefaultLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *logrusLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *logrusLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *logrusLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *logrusLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *logrusLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}
func (l *logrusLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *logrusLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

// Fatal logs at fatal level and exits the process. The GC loop relies on
// exactly this behavior to force a supervised restart on an invariant
// violation (spec.md §4.K/§7).
func (l *logrusLogger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *logrusLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

func (l *logrusLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
