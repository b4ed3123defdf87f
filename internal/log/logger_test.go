package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/config"
)

func TestNewWithInvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "invalid"})
	if err == nil {
		t.Fatal("Expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected error about invalid log level, got: %v", err)
	}
}

func TestNewWithMissingFilePath(t *testing.T) {
	_, err := New(config.LogConfig{
		Level: "info",
		File:  config.FileLogConfig{Enabled: true},
	})
	if err == nil {
		t.Fatal("Expected error for missing file path, got nil")
	}
	if !strings.Contains(err.Error(), "path") {
		t.Errorf("Expected error about missing path, got: %v", err)
	}
}

func TestInitWithFileOutput(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	logPath := filepath.Join(t.TempDir(), "test.log")
	err := Init(config.LogConfig{
		Level:   "debug",
		Pattern: "[%level] %msg %field\n",
		File: config.FileLogConfig{
			Enabled:    true,
			Path:       logPath,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	})
	require.NoError(t, err)

	GetLogger().WithField("call", "glBindBuffer").Debug("dispatched")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[debug] dispatched call=glBindBuffer")
}

func TestFormatterPattern(t *testing.T) {
	f := &formatter{pattern: "%time|%level|%msg|%field", time: "15:04"}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 13, 45, 0, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "handle miss",
		Data:    logrus.Fields{"trace_id": 7, "namespace": "buffers"},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "13:45|warning|handle miss|namespace=buffers,trace_id=7", string(out))
}

func TestFormatterDefaults(t *testing.T) {
	f := &formatter{}
	entry := &logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "hello"}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(out), "[info] hello \n"), "got %q", out)
}

func TestAdapterWithHook(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	logger := NewFromLogrus(l)

	logger.WithError(errors.New("boom")).Warnf("resize attempt %d", 3)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "resize attempt 3", entry.Message)
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "boom")

	assert.True(t, logger.IsDebugEnabled())
	assert.False(t, logger.IsTraceEnabled())
}

func TestAdapterLevels(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.TraceLevel)
	exited := 0
	l.ExitFunc = func(int) { exited++ }
	logger := NewFromLogrus(l)

	logger.Print("printed")
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	logger.Tracef("call %d", 4)
	assert.Equal(t, logrus.TraceLevel, hook.LastEntry().Level)
	assert.Equal(t, "call 4", hook.LastEntry().Message)

	logger.Fatal("gone")
	assert.Equal(t, logrus.FatalLevel, hook.LastEntry().Level)
	assert.Equal(t, 1, exited)

	assert.Panics(t, func() { logger.Panicf("bad %s", "state") })
	assert.Equal(t, "bad state", hook.LastEntry().Message)
}

func TestAdapterFieldsDoNotLeak(t *testing.T) {
	l, hook := test.NewNullLogger()
	base := NewFromLogrus(l)
	child := base.WithFields(map[string]interface{}{"call": "glClear"}).WithField("context", 100)

	child.Info("with fields")
	assert.Equal(t, logrus.Fields{"call": "glClear", "context": 100}, hook.LastEntry().Data)

	base.Info("bare")
	assert.Empty(t, hook.LastEntry().Data)
	assert.True(t, base.IsInfoEnabled())
}

func TestMultiWriterKeepsWriting(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiWriter().Add(failingWriter{}).Add(&a).Add(&b)

	n, err := m.Write([]byte("line"))
	assert.Error(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("closed") }
