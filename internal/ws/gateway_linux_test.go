package ws

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/workspace-terminal/internal/config"
	"github.com/remote-agent-terminal/workspace-terminal/internal/protocol"
)

func processAlive(pid int) bool {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := p.Stat()
	if err != nil {
		return false
	}
	return stat.State != "Z"
}

func TestGateway_ClientCloseKillsBackgroundJobs(t *testing.T) {
	env := setupGateway(t, config.CollisionReplace)
	c := env.dial(t, "project=web")
	readEnvelope(t, c)

	entry, ok := env.sessions.Lookup(env.key())
	require.True(t, ok)

	send(t, c, protocol.Input{Data: "sleep 300 & echo $! > job.pid; echo bg-$((4*5))\n"})
	readUntil(t, c, "bg-20")

	data, err := os.ReadFile(filepath.Join(env.root, "web", "job.pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	require.True(t, processAlive(pid), "background job %d not running", pid)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	c.Close()

	select {
	case <-entry.Handle.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("shell still running after client disconnect")
	}
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond,
		"background job %d outlived the connection", pid)
}
