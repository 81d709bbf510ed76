package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e), "line %q", line)
		entries = append(entries, e)
	}
	return entries
}

func TestLogger_StructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pipeline", &buf, LevelDebug).WithItem("2412.15272")

	log.Info("downloaded", map[string]interface{}{"bytes": 42})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "downloaded", entries[0].Message)
	assert.Equal(t, "pipeline", entries[0].Service)
	assert.Equal(t, "2412.15272", entries[0].ItemID)
	assert.EqualValues(t, 42, entries[0].Metadata["bytes"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, LevelWarn)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too", errors.New("boom"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, LevelError, entries[1].Level)
	require.NotNil(t, entries[1].Error)
	assert.Equal(t, "boom", entries[1].Error.Message)
}

func TestLogger_AppErrorDetails(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, LevelInfo)

	log.Error("extract failed", NewAppErrorWithCode(ErrorTypeArchive, "corrupt", "E_TAR", nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, string(ErrorTypeArchive), entries[0].Error.Type)
	assert.Equal(t, "E_TAR", entries[0].Error.Code)
}

func TestLogger_DurationAndCount(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, LevelInfo)

	log.InfoWithDuration("done", 1500*time.Millisecond)
	log.InfoWithCount("copied", 3)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].Duration)
	assert.EqualValues(t, 1500, *entries[0].Duration)
	require.NotNil(t, entries[1].DataCount)
	assert.Equal(t, 3, *entries[1].DataCount)
}

func TestLogger_ConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.WithItem("item").Info("line", map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 20)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
