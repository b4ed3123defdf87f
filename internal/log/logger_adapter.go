package log

import (
	"github.com/sirupsen/logrus"
)

// entryLogger is a Logger over one logrus entry. Every With* call returns a
// new entryLogger; the receiver keeps its fields.
type entryLogger struct {
	entry *logrus.Entry
}

// NewFromLogrus wraps l. Tests pair it with logrus/hooks/test to capture
// entries.
func NewFromLogrus(l *logrus.Logger) Logger {
	return entryLogger{entry: logrus.NewEntry(l)}
}

func (l entryLogger) emit(level logrus.Level, args []interface{}) {
	l.entry.Log(level, args...)
	l.finish(level)
}

func (l entryLogger) emitf(level logrus.Level, format string, args []interface{}) {
	l.entry.Logf(level, format, args...)
	l.finish(level)
}

// finish exits after a fatal entry. Panic entries panic inside Log.
func (l entryLogger) finish(level logrus.Level) {
	if level == logrus.FatalLevel {
		l.entry.Logger.Exit(1)
	}
}

func (l entryLogger) Print(args ...interface{})         { l.emit(logrus.InfoLevel, args) }
func (l entryLogger) Printf(f string, a ...interface{}) { l.emitf(logrus.InfoLevel, f, a) }
func (l entryLogger) Trace(args ...interface{})         { l.emit(logrus.TraceLevel, args) }
func (l entryLogger) Tracef(f string, a ...interface{}) { l.emitf(logrus.TraceLevel, f, a) }
func (l entryLogger) Debug(args ...interface{})         { l.emit(logrus.DebugLevel, args) }
func (l entryLogger) Debugf(f string, a ...interface{}) { l.emitf(logrus.DebugLevel, f, a) }
func (l entryLogger) Info(args ...interface{})          { l.emit(logrus.InfoLevel, args) }
func (l entryLogger) Infof(f string, a ...interface{})  { l.emitf(logrus.InfoLevel, f, a) }
func (l entryLogger) Warn(args ...interface{})          { l.emit(logrus.WarnLevel, args) }
func (l entryLogger) Warnf(f string, a ...interface{})  { l.emitf(logrus.WarnLevel, f, a) }
func (l entryLogger) Error(args ...interface{})         { l.emit(logrus.ErrorLevel, args) }
func (l entryLogger) Errorf(f string, a ...interface{}) { l.emitf(logrus.ErrorLevel, f, a) }
func (l entryLogger) Fatal(args ...interface{})         { l.emit(logrus.FatalLevel, args) }
func (l entryLogger) Fatalf(f string, a ...interface{}) { l.emitf(logrus.FatalLevel, f, a) }
func (l entryLogger) Panic(args ...interface{})         { l.emit(logrus.PanicLevel, args) }
func (l entryLogger) Panicf(f string, a ...interface{}) { l.emitf(logrus.PanicLevel, f, a) }

func (l entryLogger) WithField(field string, value interface{}) Logger {
	return entryLogger{entry: l.entry.WithField(field, value)}
}

func (l entryLogger) WithFields(fields map[string]interface{}) Logger {
	return entryLogger{entry: l.entry.WithFields(fields)}
}

func (l entryLogger) WithError(err error) Logger {
	return entryLogger{entry: l.entry.WithError(err)}
}

func (l entryLogger) enabled(level logrus.Level) bool {
	return l.entry.Logger.IsLevelEnabled(level)
}

func (l entryLogger) IsTraceEnabled() bool { return l.enabled(logrus.TraceLevel) }
func (l entryLogger) IsDebugEnabled() bool { return l.enabled(logrus.DebugLevel) }
func (l entryLogger) IsInfoEnabled() bool  { return l.enabled(logrus.InfoLevel) }
