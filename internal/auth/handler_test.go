package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasilcai/accounts-api/internal/logging"
)

// noopLimiter never limits.
type noopLimiter struct{}

func (noopLimiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	return false, nil
}

func (noopLimiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	return nil
}

// deniedLimiter always limits.
type deniedLimiter struct{ noopLimiter }

func (deniedLimiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	return true, nil
}

type testAPI struct {
	router *chi.Mux
	store  *fakeStore
	mailer *fakeMailer
}

// newTestAPI wires the user routes the way the production router does,
// on in-memory collaborators.
func newTestAPI(t *testing.T, limiter IPRateLimiter) *testAPI {
	t.Helper()

	store := newFakeStore()
	mailer := &fakeMailer{}
	avatars := &fakeAvatars{filename: "avatar.jpg"}
	logger := logging.NewLogger(true)

	tokens, err := NewJWTService([]byte("test-secret"))
	require.NoError(t, err)

	service := NewService(store, tokens, mailer, avatars, logger, time.Hour)
	handler := NewHandler(service, limiter, logger)
	middleware := NewMiddleware(tokens, store)

	r := chi.NewRouter()
	r.Route("/users", func(r chi.Router) {
		r.Get("/", handler.Root)
		r.Post("/signup", handler.Signup)
		r.Post("/login", handler.Login)
		r.Get("/verify/{verificationToken}", handler.VerifyEmail)
		r.Post("/verify", handler.ResendVerification)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/logout", handler.Logout)
			r.Get("/current", handler.Current)
			r.Patch("/", handler.UpdateSubscription)
			r.Patch("/avatars", handler.UpdateAvatar)
		})
	})

	return &testAPI{router: r, store: store, mailer: mailer}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (a *testAPI) verificationToken(t *testing.T, email string) string {
	t.Helper()
	u, err := a.store.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, u.VerificationToken)
	return *u.VerificationToken
}

func TestSignupEndpoint(t *testing.T) {
	t.Run("creates user", func(t *testing.T) {
		api := newTestAPI(t, noopLimiter{})

		rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
		assert.Equal(t, http.StatusCreated, rec.Code)

		body := api.decode(t, rec)
		assert.Equal(t, "User created successfully", body["message"])
		assert.NotEmpty(t, body["user_id"])
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		api := newTestAPI(t, noopLimiter{})

		rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "other12"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, 1, api.store.count())
	})

	t.Run("validation errors are 400", func(t *testing.T) {
		api := newTestAPI(t, noopLimiter{})

		rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "bad", Password: "secret1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "123"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		api := newTestAPI(t, deniedLimiter{})

		rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestLoginEndpoint(t *testing.T) {
	api := newTestAPI(t, noopLimiter{})

	rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("malformed credentials are 400", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "", Password: "secret1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "a@x.com", Password: "123"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "nobody@x.com", Password: "secret1"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unverified user is 401 regardless of password", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "a@x.com", Password: "secret1"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("after verification", func(t *testing.T) {
		token := api.verificationToken(t, "a@x.com")
		rec := api.do(t, http.MethodGet, "/users/verify/"+token, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "a@x.com", Password: "wrong12"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "a@x.com", Password: "secret1"})
		assert.Equal(t, http.StatusOK, rec.Code)

		body := api.decode(t, rec)
		assert.NotEmpty(t, body["token"])
		userBody, ok := body["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "a@x.com", userBody["email"])
		assert.Equal(t, "starter", userBody["subscription"])
	})
}

// TestFullAccountLifecycle pins the documented soft-logout behavior:
// after logout the cleared store token is not consulted, so a still
// cryptographically valid token keeps authenticating.
func TestFullAccountLifecycle(t *testing.T) {
	api := newTestAPI(t, noopLimiter{})

	rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	verifyToken := api.verificationToken(t, "a@x.com")
	rec = api.do(t, http.MethodGet, "/users/verify/"+verifyToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second use of a consumed token no longer resolves.
	rec = api.do(t, http.MethodGet, "/users/verify/"+verifyToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "a@x.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := api.decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	rec = api.do(t, http.MethodPost, "/users/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	u, err := api.store.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, u.Token)

	rec = api.do(t, http.MethodGet, "/users/current", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := api.decode(t, rec)
	assert.Equal(t, "a@x.com", body["email"])
}

func TestProtectedEndpoints(t *testing.T) {
	api := newTestAPI(t, noopLimiter{})

	rec := api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	verifyToken := api.verificationToken(t, "a@x.com")
	rec = api.do(t, http.MethodGet, "/users/verify/"+verifyToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/users/login", "", LoginRequest{Email: "a@x.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := api.decode(t, rec)["token"].(string)

	t.Run("no token is 401", func(t *testing.T) {
		for _, route := range []struct{ method, path string }{
			{http.MethodPost, "/users/logout"},
			{http.MethodGet, "/users/current"},
			{http.MethodPatch, "/users/"},
			{http.MethodPatch, "/users/avatars"},
		} {
			rec := api.do(t, route.method, route.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
		}
	})

	t.Run("subscription update", func(t *testing.T) {
		rec := api.do(t, http.MethodPatch, "/users/", token, UpdateSubscriptionRequest{Subscription: "business"})
		assert.Equal(t, http.StatusOK, rec.Code)

		body := api.decode(t, rec)
		assert.Equal(t, "business", body["subscription"])

		rec = api.do(t, http.MethodPatch, "/users/", token, UpdateSubscriptionRequest{Subscription: "gold"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("avatar update", func(t *testing.T) {
		rec := api.do(t, http.MethodPatch, "/users/avatars", token, UpdateAvatarRequest{AvatarURL: "b@x.com"})
		assert.Equal(t, http.StatusOK, rec.Code)

		body := api.decode(t, rec)
		assert.Equal(t, "avatar.jpg", body["avatar_url"])

		u, err := api.store.GetByEmail(context.Background(), "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, "avatar.jpg", u.AvatarURL)
	})
}

func TestResendVerificationEndpoint(t *testing.T) {
	api := newTestAPI(t, noopLimiter{})

	rec := api.do(t, http.MethodPost, "/users/verify", "", ResendVerificationRequest{Email: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/users/verify", "", ResendVerificationRequest{Email: "nobody@x.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/users/signup", "", SignupRequest{Email: "a@x.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/users/verify", "", ResendVerificationRequest{Email: "a@x.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	verifyToken := api.verificationToken(t, "a@x.com")
	rec = api.do(t, http.MethodGet, "/users/verify/"+verifyToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/users/verify", "", ResendVerificationRequest{Email: "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := api.decode(t, rec)
	assert.Equal(t, fmt.Sprintf("%v", body["error"]), "verification has already been passed")
}
