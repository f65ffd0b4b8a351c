package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasilcai/accounts-api/internal/user"
)

func TestRequireAuth(t *testing.T) {
	tokens, err := NewJWTService([]byte("test-secret"))
	require.NoError(t, err)

	store := newFakeStore()
	known, err := store.Create(context.Background(), "a@x.com", "hash", "", "vt")
	require.NoError(t, err)

	mw := NewMiddleware(tokens, store)

	var gotUser *user.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	do := func(authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/users/current", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		mw.RequireAuth(next).ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing header", func(t *testing.T) {
		rec := do("")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		rec := do("Token abc")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = do("Bearer")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := do("Bearer garbage")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := tokens.CreateToken(known.ID, known.Email, -time.Minute)
		require.NoError(t, err)

		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token for a user that no longer exists", func(t *testing.T) {
		token, err := tokens.CreateToken(uuid.New(), "ghost@x.com", time.Hour)
		require.NoError(t, err)

		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token attaches the user", func(t *testing.T) {
		token, err := tokens.CreateToken(known.ID, known.Email, time.Hour)
		require.NoError(t, err)

		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotUser)
		assert.Equal(t, known.ID, gotUser.ID)
		assert.Equal(t, "a@x.com", gotUser.Email)
	})
}
