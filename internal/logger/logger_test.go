package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesToBothConsoleAndJSONFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.json")
	var console bytes.Buffer

	log, err := New(&console, logPath)
	require.NoError(t, err)

	log.Info("hello world")

	require.Contains(t, console.String(), "hello world")

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "hello world", entry["msg"])
}

func TestConsoleHandlerColorsByLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf)
	log := slog.New(h)
	log.Error("boom")
	require.Contains(t, buf.String(), Red)
}
