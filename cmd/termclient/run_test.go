package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/remote-agent-terminal/workspace-terminal/internal/client"
)

func TestPromptAction(t *testing.T) {
	assert.Equal(t, actionReconnect, promptAction([]byte("r")))
	assert.Equal(t, actionQuit, promptAction([]byte("q")))
	assert.Equal(t, actionQuit, promptAction([]byte{0x03}))
	assert.Equal(t, actionNone, promptAction([]byte("x")))
}

func TestReadStdin(t *testing.T) {
	ch := readStdin(strings.NewReader("hello"))
	var got []byte
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				assert.Equal(t, "hello", string(got))
				return
			}
			got = append(got, chunk...)
		case <-time.After(5 * time.Second):
			t.Fatal("reader never closed")
		}
	}
}

func TestTTYSurface(t *testing.T) {
	var out bytes.Buffer
	s := newTTYSurface(&out, -1)

	cols, rows := s.Size()
	assert.Equal(t, fallbackCols, cols)
	assert.Equal(t, fallbackRows, rows)

	s.Write([]byte("data"))
	s.WriteError("Project not found")
	s.SetStatus(client.StatusConnected)
	assert.NotContains(t, out.String(), "disconnected")
	s.SetStatus(client.StatusDisconnected)

	assert.Contains(t, out.String(), "data")
	assert.Contains(t, out.String(), "[error] Project not found")
	assert.Contains(t, out.String(), "press r to reconnect")
}

func TestRootCmdRequiresProject(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
