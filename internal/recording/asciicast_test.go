package recording

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesHeaderAndEvents(t *testing.T) {
	var buf bytes.Buffer
	rec := NewWithWriter(&buf)

	require.NoError(t, rec.WriteHeader(80, 30, "demo"))
	require.NoError(t, rec.Output([]byte("\x1b[32mhi\x1b[0m\r\n")))
	require.NoError(t, rec.Input([]byte("ls\r")))
	require.NoError(t, rec.Resize(120, 40))

	scanner := bufio.NewScanner(&buf)
	require.True(t, scanner.Scan())

	var header Header
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))
	assert.Equal(t, 2, header.Version)
	assert.Equal(t, 80, header.Width)
	assert.Equal(t, 30, header.Height)
	assert.Equal(t, "demo", header.Title)

	var events []Event
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "o", events[0].Type)
	assert.Equal(t, "\x1b[32mhi\x1b[0m\r\n", events[0].Data)
	assert.Equal(t, "i", events[1].Type)
	assert.Equal(t, "r", events[2].Type)
	assert.Equal(t, "120x40", events[2].Data)
	assert.LessOrEqual(t, events[0].Offset, events[2].Offset)
}

func TestRecorderDropsWritesAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.cast")
	rec, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, rec.WriteHeader(80, 24, ""))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Output([]byte("late")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
	assert.NotContains(t, string(data), "late")
}

func TestEventUnmarshalRejectsBadShapes(t *testing.T) {
	for _, raw := range []string{`[1.0, "o"]`, `["x", "o", "d"]`, `[1.0, 2, "d"]`, `[1.0, "o", 3]`, `{}`} {
		var ev Event
		assert.Error(t, json.Unmarshal([]byte(raw), &ev), raw)
	}
}
