package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)
	defer l.Close()

	assert.NotNil(t, l.redactor)
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "nonsense", Console: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetLevel(t *testing.T) {
	l, err := New(Config{Level: "info", Console: true})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.Error(t, l.SetLevel("nonsense"))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetLevelAffectsExistingLoggers(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "stockpilot.log")

	l, err := New(Config{Level: "info", File: logPath})
	require.NoError(t, err)

	child := l.GetZerolog()
	child.Debug().Msg("before retune")

	require.NoError(t, l.SetLevel("debug"))
	child.Debug().Msg("after retune")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "before retune")
	assert.Contains(t, string(data), "after retune")
}

func TestFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "logs", "stockpilot.log")

	l, err := New(Config{Level: "debug", File: logPath})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Str("session_id", "s-1").Msg("turn complete")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "turn complete")
}

func TestRedactionAppliesToFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "stockpilot.log")

	l, err := New(Config{Level: "info", File: logPath, Redaction: true})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Msg("report receiver is investor@example.com")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "investor@example.com")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestRedactorPatterns(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name  string
		input string
		leaks string
	}{
		{"openai key", "key sk-abcdefghijklmnopqrstuvwx set", "sk-abcdefghijklmnopqrstuvwx"},
		{"anthropic key", "key sk-ant-REDACTED set", "abcdefghijklmnopqrstuvwx"},
		{"bearer token", "Authorization: Bearer abc.def.ghi", "abc.def.ghi"},
		{"email", "send the report to a@b.com please", "a@b.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.NotContains(t, out, tt.leaks)
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestRedactorAddPattern(t *testing.T) {
	r := NewRedactor()
	require.NoError(t, r.AddPattern(`ticker-secret-\d+`))
	assert.Equal(t, "[REDACTED]", r.Redact("ticker-secret-42"))

	err := r.AddPattern(`([`)
	assert.Error(t, err)
}

func TestRedactingWriterReportsFullLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactor().Wrap(&buf)

	msg := "contact investor@example.com"
	n, err := w.Write([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	assert.False(t, strings.Contains(buf.String(), "investor@example.com"))
}
