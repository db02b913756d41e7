package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/migadu/sora-sieve/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestTraceWriter(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := TraceWriter(l, slog.LevelDebug)

	_, err := w.Write([]byte("00000000: KEEP\n00000002: FILE"))
	require.NoError(t, err)
	_, err = w.Write([]byte("INTO\n"))
	require.NoError(t, err)

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, "DEBUG", rec["level"])
		msgs = append(msgs, rec["msg"].(string))
	}
	assert.Equal(t, []string{"00000000: KEEP", "00000002: FILEINTO"}, msgs)
}

func TestInitializeFile(t *testing.T) {
	prev := Get()
	defer func() {
		SetLogger(prev)
		slog.SetDefault(prev)
	}()

	path := filepath.Join(t.TempDir(), "sieve.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Format: "json", Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	Info("dropped")
	Warn("kept", "component", "sieve")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"component":"sieve"`)
}
