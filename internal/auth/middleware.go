// internal/auth/middleware.go
// Bearer-token authentication for mobile clients and shared-key
// authentication for internal callers

package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ispoon/ispoon-backend/internal/common/logger"
	"github.com/ispoon/ispoon-backend/internal/common/utils"
)

// InternalKeyHeader carries the shared secret for service-to-service calls
const InternalKeyHeader = "X-Internal-Key"

type contextKey string

const (
	userIDKey contextKey = "userID"
	emailKey  contextKey = "email"
)

// Middleware provides authentication middleware
type Middleware struct {
	jwt         utils.JWTOptions
	internalKey string
	log         *zap.Logger
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(jwt utils.JWTOptions, internalKey string) *Middleware {
	return &Middleware{
		jwt:         jwt,
		internalKey: internalKey,
		log:         logger.WithModule("auth"),
	}
}

// Authenticate verifies the access token and puts the user on the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
			return
		}

		claims, err := utils.ValidateJWT(token, m.jwt)
		if err != nil {
			m.log.Debug("rejected access token", zap.Error(err))
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		if claims.Type != utils.TokenTypeAccess {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token type")
			return
		}

		ctx := WithUser(r.Context(), claims.UserID, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireInternalKey only lets through requests carrying the shared key.
// An empty configured key rejects everything.
func (m *Middleware) RequireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(InternalKeyHeader)
		if m.internalKey == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(m.internalKey)) != 1 {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid internal key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the JWT token from the Authorization header
// Supports "Bearer <token>" format
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithUser stores the authenticated user on ctx
func WithUser(ctx context.Context, userID int64, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, emailKey, email)
}

// GetUserIDFromContext extracts user ID from request context
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// GetEmailFromContext extracts email from request context
func GetEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok
}
