package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/avasilcai/accounts-api/internal/httputil"
	"github.com/avasilcai/accounts-api/internal/user"
)

type contextKey string

const userContextKey contextKey = "user"

// UserLoader loads users for the middleware.
type UserLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Middleware guards protected routes. No route parses tokens itself.
type Middleware struct {
	tokens TokenService
	users  UserLoader
}

func NewMiddleware(tokens TokenService, users UserLoader) *Middleware {
	return &Middleware{tokens: tokens, users: users}
}

// RequireAuth validates the "Bearer {token}" Authorization header,
// loads the user the token identifies and attaches it to the request
// context. Token validity is signature plus expiry only; the stored
// token field is not consulted, so a still-valid token keeps working
// after logout.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.RespondErrorWithCode(w, "not authorized", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondErrorWithCode(w, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.VerifyToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				httputil.RespondErrorWithCode(w, "token has expired", httputil.CodeTokenExpired, http.StatusUnauthorized)
				return
			}
			httputil.RespondErrorWithCode(w, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			httputil.RespondErrorWithCode(w, "invalid user ID in token", httputil.CodeInvalidTokenUserID, http.StatusUnauthorized)
			return
		}

		current, err := m.users.GetByID(r.Context(), userID)
		if err != nil {
			httputil.RespondErrorWithCode(w, "not authorized", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, current)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserFromContext returns the authenticated user attached by RequireAuth.
func GetUserFromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userContextKey).(*user.User)
	return u, ok
}
