// Package auth attaches a user identity to gateway requests.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
)

// ContextKey is the gin context key holding the authenticated user ID.
const ContextKey = "userID"

// Claims represents the JWT claims accepted by the gateway.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator verifies HS256 tokens. With an empty secret it accepts every
// request as the development user.
type Validator struct {
	secret  []byte
	devUser string
}

// NewValidator creates a Validator.
func NewValidator(secret, devUser string) *Validator {
	if devUser == "" {
		devUser = "default-user"
	}
	return &Validator{secret: []byte(secret), devUser: devUser}
}

// Enabled reports whether tokens are verified.
func (v *Validator) Enabled() bool {
	return len(v.secret) > 0
}

// Validate parses tokenString and returns the user ID from its subject.
func (v *Validator) Validate(tokenString string) (string, error) {
	if !v.Enabled() {
		return v.devUser, nil
	}
	if tokenString == "" {
		return "", model.ErrUnauthorized
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", model.ErrUnauthorized
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", model.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Middleware authenticates each request and stores the user ID under
// ContextKey. Browsers cannot set headers on WebSocket handshakes, so the
// token may also come from the "token" query parameter.
func Middleware(v *Validator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		userID, err := v.Validate(tokenFromRequest(c.Request))
		if err != nil {
			logger.Debug("rejecting request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "Missing or invalid token"},
			})
			return
		}
		c.Set(ContextKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user of c.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
