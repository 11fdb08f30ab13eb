package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/workspace-terminal/internal/auth"
	"github.com/remote-agent-terminal/workspace-terminal/internal/db"
	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/pty"
	"github.com/remote-agent-terminal/workspace-terminal/internal/repository"
	"github.com/remote-agent-terminal/workspace-terminal/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	sessions *session.Manager
	projects *repository.ProjectRepository
}

func setupServer(t *testing.T, user string, recordingDir string) *testServer {
	t.Helper()

	database, err := db.NewTestDB()
	require.NoError(t, err)

	ptyManager := pty.NewManager(nil)
	ptyManager.DefaultShell = "/bin/sh"
	ptyManager.RecordingDir = recordingDir
	sessions := session.NewManager(ptyManager, repository.NewSessionRepository(database), nil, nil, session.Config{})
	projects := repository.NewProjectRepository(database)

	router := gin.New()
	router.Use(auth.Middleware(auth.NewValidator("", user), nil))
	api := router.Group("/api")
	NewSessionHandler(sessions, nil).RegisterRoutes(api)
	NewProjectHandler(projects, nil).RegisterRoutes(api)
	NewConfigHandler("").RegisterRoutes(api)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sessions.Shutdown(ctx)
		time.Sleep(50 * time.Millisecond)
		database.Close()
	})

	return &testServer{router: router, sessions: sessions, projects: projects}
}

func (s *testServer) do(method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) open(t *testing.T, user, project string) *session.Entry {
	t.Helper()
	entry, err := s.sessions.Open(context.Background(), session.OpenRequest{UserID: user, Project: project, Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, entry.Handle.OnData(func([]byte) {}))
	return entry
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestSessionHandler_ListAndGet(t *testing.T) {
	s := setupServer(t, "alice", "")
	mine := s.open(t, "alice", "web")
	theirs := s.open(t, "bob", "web")

	w := s.do(http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, mine.Session.ID, list[0].ID)
	assert.Equal(t, "running", list[0].Status)
	assert.Equal(t, "web", list[0].Project)

	w = s.do(http.MethodGet, "/api/sessions/"+mine.Session.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, mine.Session.Workdir, got.Workdir)
	assert.Equal(t, 80, got.Cols)
	assert.False(t, got.HasRecording)

	w = s.do(http.MethodGet, "/api/sessions/"+theirs.Session.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, w))
}

func TestSessionHandler_Delete(t *testing.T) {
	s := setupServer(t, "alice", "")
	entry := s.open(t, "alice", "web")
	theirs := s.open(t, "bob", "api")

	w := s.do(http.MethodDelete, "/api/sessions/"+theirs.Session.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, theirs.Handle.Alive())

	w = s.do(http.MethodDelete, "/api/sessions/"+entry.Session.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	select {
	case <-entry.Handle.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("session still running after delete")
	}

	require.Eventually(t, func() bool {
		w := s.do(http.MethodGet, "/api/sessions/"+entry.Session.ID, nil)
		var got SessionResponse
		json.Unmarshal(w.Body.Bytes(), &got)
		return got.Status == string(model.SessionStatusKilled)
	}, 5*time.Second, 20*time.Millisecond)

	w = s.do(http.MethodDelete, "/api/sessions/"+entry.Session.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_NOT_RUNNING", errorCode(t, w))

	w = s.do(http.MethodDelete, "/api/sessions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_Recording(t *testing.T) {
	s := setupServer(t, "alice", t.TempDir())
	entry := s.open(t, "alice", "web")

	require.NoError(t, entry.Handle.Write([]byte("echo recorded; exit 0\n")))
	select {
	case <-entry.Handle.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}

	w := s.do(http.MethodGet, "/api/sessions/"+entry.Session.ID+"/recording", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-asciicast", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), entry.Session.ID+".cast")
	firstLine, _, _ := strings.Cut(w.Body.String(), "\n")
	assert.Contains(t, firstLine, `"version":2`)
}

func TestSessionHandler_NoRecording(t *testing.T) {
	s := setupServer(t, "alice", "")
	entry := s.open(t, "alice", "web")

	w := s.do(http.MethodGet, "/api/sessions/"+entry.Session.ID+"/recording", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RECORDING_NOT_FOUND", errorCode(t, w))
}

func TestProjectHandler(t *testing.T) {
	s := setupServer(t, "alice", "")
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name     string
		project  string
		path     string
		wantCode int
	}{
		{"valid", "web", dir, http.StatusOK},
		{"relative path", "web", "relative/dir", http.StatusBadRequest},
		{"missing dir", "web", filepath.Join(dir, "missing"), http.StatusBadRequest},
		{"file", "web", file, http.StatusBadRequest},
		{"bad name", "a%5Cb", dir, http.StatusBadRequest},
		{"empty path", "web", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPut, "/api/projects/"+tt.project, PutProjectRequest{Path: tt.path})
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	other := t.TempDir()
	w := s.do(http.MethodPut, "/api/projects/api", PutProjectRequest{Path: other})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []ProjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "api", list[0].Name)
	assert.Equal(t, other, list[0].Path)
	assert.Equal(t, "web", list[1].Name)
	assert.Equal(t, dir, list[1].Path)
}

func TestConfigHandler(t *testing.T) {
	tests := []struct {
		name    string
		public  string
		host    string
		headers map[string]string
		want    string
	}{
		{"public url", "wss://term.example.com/", "ignored:1", nil, "wss://term.example.com"},
		{"derived", "", "localhost:3001", nil, "ws://localhost:3001"},
		{"behind tls proxy", "", "internal:3001", map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "term.example.com"}, "wss://term.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			NewConfigHandler(tt.public).RegisterRoutes(router.Group("/api"))

			req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
			req.Host = tt.host
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var resp ConfigResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.WSURL)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m3s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h0m1s", formatDuration(time.Hour+time.Second))
}
