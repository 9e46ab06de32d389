package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestJSONLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "evercrawl", FormatJSON, zerolog.DebugLevel)

	log.With(Field{Key: "component", Value: "acceptor"}).Info("bound", Field{Key: "addr", Value: ":8080"})
	log.Error("failed", Err(errors.New("boom")))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "bound", entries[0]["message"])
	assert.Equal(t, "evercrawl", entries[0]["service"])
	assert.Equal(t, "acceptor", entries[0]["component"])
	assert.Equal(t, ":8080", entries[0]["addr"])
	assert.Contains(t, entries[0], "time")

	assert.Equal(t, "error", entries[1]["level"])
	assert.Equal(t, "boom", entries[1]["error"])
	assert.NotContains(t, entries[1], "component", "With must not mutate the parent logger")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "evercrawl", FormatJSON, zerolog.WarnLevel)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["message"])
}

func TestPrettyFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "evercrawl", FormatPretty, zerolog.InfoLevel)

	log.Info("hello", Field{Key: "conn_id", Value: 7})

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "conn_id=")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(out))))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	log := Nop()
	log.Info("nothing")
	assert.NotNil(t, log.With(Field{Key: "k", Value: "v"}))
}
