package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleLoggerWritesOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test-component", &buf)

	l.Info("hello", map[string]interface{}{"n": 1})
	l.Warn("careful", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "info", e.Level)
	assert.Equal(t, "test-component", e.Component)
	assert.Equal(t, "hello", e.Message)
	assert.Equal(t, float64(1), e.Data["n"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, "warn", e.Level)
	assert.Nil(t, e.Data)
}

func TestSimpleLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("c", &buf)
	l.SetLevel(WarnLevel)

	l.Debug("skip", nil)
	l.Info("skip too", nil)
	l.Warn("keep", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
}

func TestSimpleLoggerWithMergesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("c", &buf)
	child := l.With(map[string]interface{}{"request_id": "abc"})
	child.Info("msg", map[string]interface{}{"extra": true})

	var e entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &e))
	assert.Equal(t, "abc", e.Data["request_id"])
	assert.Equal(t, true, e.Data["extra"])
}

func TestNoOpLoggerNeverPanics(t *testing.T) {
	var l Logger = NoOpLogger{}
	l.Debug("x", nil)
	l.Info("x", nil)
	l.Warn("x", nil)
	l.Error("x", nil)
	l.SetLevel(DebugLevel)
	assert.NotNil(t, l.With(map[string]interface{}{"a": 1}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
}
