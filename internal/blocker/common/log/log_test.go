package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

type testLogger struct {
	entries []string
}

func (l *testLogger) Info(_ map[string]any, msg string)  { l.entries = append(l.entries, "INFO:"+msg) }
func (l *testLogger) Error(_ map[string]any, msg string) { l.entries = append(l.entries, "ERROR:"+msg) }
func (l *testLogger) Debug(_ map[string]any, msg string) { l.entries = append(l.entries, "DEBUG:"+msg) }
func (l *testLogger) Warn(_ map[string]any, msg string)  { l.entries = append(l.entries, "WARN:"+msg) }
func (l *testLogger) Panic(_ map[string]any, msg string) {}
func (l *testLogger) Fatal(_ map[string]any, msg string) {}

func TestSetLoggerAndGlobalLogging(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)

	tlog := &testLogger{}
	SetLogger(tlog)

	Info(nil, "info msg")
	Error(nil, "error msg")
	Debug(nil, "debug msg")
	Warn(nil, "warn msg")

	assert.Equal(t, []string{
		"INFO:info msg",
		"ERROR:error msg",
		"DEBUG:debug msg",
		"WARN:warn msg",
	}, tlog.entries)
}

func TestConfigure(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)

	assert.NoError(t, Configure("dev", "debug"))
	assert.NoError(t, Configure("prod", "WARN"))
	assert.Error(t, Configure("prod", "verbose"))
}

func TestZapLoggerWithFields(t *testing.T) {
	l := newZapLogger(true, zapcore.DebugLevel)
	l.Debug(map[string]any{"list": "easylist", "error": errors.New("boom"), "count": 3}, "test debug")
	l.Info(nil, "test info")
	assert.Panics(t, func() { l.Panic(nil, "test panic") })
}

func TestZapFieldsOrdered(t *testing.T) {
	fields := zapFields(map[string]any{"b": 1, "a": 2, "c": errors.New("x")})
	assert.Len(t, fields, 3)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "b", fields[1].Key)
	assert.Equal(t, "c", fields[2].Key)
}

func TestOrNoop(t *testing.T) {
	assert.NotNil(t, OrNoop(nil))
	tl := &testLogger{}
	assert.Same(t, tl, OrNoop(tl))
	NewNoopLogger().Info(nil, "discarded")
}
