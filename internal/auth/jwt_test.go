package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidator_Disabled(t *testing.T) {
	v := NewValidator("", "dev")
	assert.False(t, v.Enabled())

	id, err := v.Validate("")
	require.NoError(t, err)
	assert.Equal(t, "dev", id)
}

func TestValidator_RoundTrip(t *testing.T) {
	v := NewValidator("s3cret", "")
	token := signToken(t, "s3cret", "alice", time.Minute)

	id, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestValidator_Rejects(t *testing.T) {
	v := NewValidator("s3cret", "")

	expired := signToken(t, "s3cret", "alice", -time.Minute)
	other := signToken(t, "other", "alice", time.Minute)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"expired":    expired,
		"bad secret": other,
		"no subject": noSubject,
		"wrong alg":  wrongAlg,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(token)
			assert.True(t, errors.Is(err, model.ErrUnauthorized), "err = %v", err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewValidator("s3cret", "")
	token := signToken(t, "s3cret", "bob", time.Minute)

	router := gin.New()
	router.Use(Middleware(v, nil))
	router.GET("/whoami", func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id)
	})

	tests := []struct {
		name     string
		target   string
		header   string
		wantCode int
		wantBody string
	}{
		{"bearer header", "/whoami", "Bearer " + token, http.StatusOK, "bob"},
		{"query token", "/whoami?token=" + token, "", http.StatusOK, "bob"},
		{"missing", "/whoami", "", http.StatusUnauthorized, ""},
		{"bad token", "/whoami?token=nope", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantBody, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
			}
		})
	}
}

func TestMiddleware_DevUser(t *testing.T) {
	router := gin.New()
	router.Use(Middleware(NewValidator("", "local"), nil))
	router.GET("/whoami", func(c *gin.Context) {
		id, ok := UserID(c)
		assert.True(t, ok)
		c.String(http.StatusOK, id)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, "local", w.Body.String())
}
