package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    func(base string) string
	}{
		{
			name: "server advertises endpoint",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"wsUrl":"wss://term.example.com/"}`))
			},
			want: func(string) string { return "wss://term.example.com" },
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: func(base string) string { return "ws" + strings.TrimPrefix(base, "http") },
		},
		{
			name: "unusable endpoint",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"wsUrl":"ftp://nope"}`))
			},
			want: func(base string) string { return "ws" + strings.TrimPrefix(base, "http") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/config", r.URL.Path)
				tt.handler(w, r)
			}))
			defer srv.Close()

			got, err := ResolveEndpoint(context.Background(), nil, srv.URL+"/", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want(srv.URL), got)
		})
	}
}

func TestResolveEndpoint_Unreachable(t *testing.T) {
	got, err := ResolveEndpoint(context.Background(), nil, "https://127.0.0.1:1/base", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://127.0.0.1:1/base", got)
}

func TestResolveEndpoint_InvalidBase(t *testing.T) {
	for _, base := range []string{"ftp://host", "http://", "::bad"} {
		_, err := ResolveEndpoint(context.Background(), nil, base, nil)
		assert.Error(t, err, base)
	}
}
