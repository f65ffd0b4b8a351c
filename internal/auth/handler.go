package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avasilcai/accounts-api/internal/httputil"
	"github.com/avasilcai/accounts-api/internal/logging"
	"github.com/avasilcai/accounts-api/internal/user"
)

// IPRateLimiter is the slice of the rate limiter the handlers use.
// *ratelimit.Limiter satisfies it.
type IPRateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
}

// Handler contains the HTTP handlers for the /users routes.
type Handler struct {
	service     *Service
	rateLimiter IPRateLimiter
	logger      *logging.Logger
}

func NewHandler(service *Service, rateLimiter IPRateLimiter, logger *logging.Logger) *Handler {
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// SignupRequest is the registration request body.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendVerificationRequest asks for the verification mail again.
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// UpdateSubscriptionRequest replaces the subscription tier.
type UpdateSubscriptionRequest struct {
	Subscription string `json:"subscription"`
}

// UpdateAvatarRequest carries the avatar source: an image URL, or an
// email address to gravatarize. Empty means the caller's own email.
type UpdateAvatarRequest struct {
	AvatarURL string `json:"avatar_url"`
}

// PublicUser is the user shape returned to clients.
type PublicUser struct {
	Email        string            `json:"email"`
	Subscription user.Subscription `json:"subscription"`
}

// SignupResponse is the registration response.
type SignupResponse struct {
	Message string    `json:"message"`
	UserID  uuid.UUID `json:"user_id"`
}

// LoginResponse is the login response.
type LoginResponse struct {
	Token   string     `json:"token"`
	User    PublicUser `json:"user"`
	Message string     `json:"message"`
}

// Root answers the unauthenticated landing route.
// @Summary      Auth landing page
// @Tags         users
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /users [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"message": "Auth page"}, http.StatusOK)
}

// Signup handles user registration.
// @Summary      Register a new user
// @Description  Create an unverified account and send a verification email.
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body SignupRequest true "Registration credentials"
// @Success      201 {object} SignupResponse
// @Failure      400 {object} httputil.ErrorResponse "Validation error"
// @Failure      409 {object} httputil.ErrorResponse "Email already exists"
// @Failure      500 {object} httputil.ErrorResponse
// @Router       /users/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "signup") {
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid signup request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	newUser, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrDuplicateEmail):
			logger.Warn("signup failed: email already exists")
			httputil.RespondErrorWithCode(w, "email already in use", httputil.CodeEmailAlreadyExists, http.StatusConflict)
		case errors.Is(err, ErrEmailRequired):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeEmailRequired, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidEmailFormat):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeInvalidEmailFormat, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordRequired):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodePasswordRequired, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordTooShort):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodePasswordTooShort, http.StatusBadRequest)
		default:
			logger.Error("signup failed: internal error", "error", err.Error())
			httputil.RespondErrorWithCode(w, "error creating the user", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("user registered", "user_id", newUser.ID)

	httputil.RespondJSON(w, SignupResponse{
		Message: "User created successfully",
		UserID:  newUser.ID,
	}, http.StatusCreated)
}

// Login handles credential login.
// @Summary      User login
// @Description  Authenticate a verified user and issue a bearer token.
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} LoginResponse
// @Failure      400 {object} httputil.ErrorResponse "Validation error"
// @Failure      401 {object} httputil.ErrorResponse "Wrong password or unverified email"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /users/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "login") {
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	token, current, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailRequired):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeEmailRequired, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidEmailFormat):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeInvalidEmailFormat, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordRequired):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodePasswordRequired, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordTooShort):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodePasswordTooShort, http.StatusBadRequest)
		case errors.Is(err, user.ErrNotFound):
			logger.Warn("login failed: user not found")
			httputil.RespondErrorWithCode(w, "user not found", httputil.CodeUserNotFound, http.StatusNotFound)
		case errors.Is(err, ErrEmailNotVerified):
			logger.Warn("login failed: email not verified")
			httputil.RespondErrorWithCode(w, "email not verified", httputil.CodeEmailNotVerified, http.StatusUnauthorized)
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("login failed: invalid credentials")
			httputil.RespondErrorWithCode(w, "email or password is wrong", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
		default:
			logger.Error("login failed: internal error", "error", err.Error())
			httputil.RespondErrorWithCode(w, "login error", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("user logged in")

	httputil.RespondJSON(w, LoginResponse{
		Token: token,
		User: PublicUser{
			Email:        current.Email,
			Subscription: current.Subscription,
		},
		Message: "Login successful",
	}, http.StatusOK)
}

// Logout clears the stored bearer token.
// @Summary      User logout
// @Tags         users
// @Security     BearerAuth
// @Success      204
// @Failure      401 {object} httputil.ErrorResponse
// @Failure      500 {object} httputil.ErrorResponse
// @Router       /users/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	current, ok := GetUserFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "not authorized", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), current.ID); err != nil {
		logger.Error("logout failed", "error", err.Error())
		httputil.RespondErrorWithCode(w, "logout error", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged out", "user_id", current.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Current returns the authenticated user's public profile.
// @Summary      Current user
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} PublicUser
// @Failure      401 {object} httputil.ErrorResponse
// @Router       /users/current [get]
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	current, ok := GetUserFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "not authorized", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	httputil.RespondJSON(w, PublicUser{
		Email:        current.Email,
		Subscription: current.Subscription,
	}, http.StatusOK)
}

// UpdateSubscription replaces the subscription tier.
// @Summary      Update subscription
// @Tags         users
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body UpdateSubscriptionRequest true "New tier"
// @Success      200 {object} PublicUser
// @Failure      400 {object} httputil.ErrorResponse "Unknown tier"
// @Failure      401 {object} httputil.ErrorResponse
// @Router       /users [patch]
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	current, ok := GetUserFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "not authorized", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	updated, err := h.service.UpdateSubscription(r.Context(), current.ID, req.Subscription)
	if err != nil {
		if errors.Is(err, user.ErrInvalidSubscription) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeInvalidSubscription, http.StatusBadRequest)
			return
		}
		logger.Error("subscription update failed", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to update subscription", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("subscription updated", "user_id", current.ID, "subscription", updated.Subscription)

	httputil.RespondJSON(w, PublicUser{
		Email:        updated.Email,
		Subscription: updated.Subscription,
	}, http.StatusOK)
}

// UpdateAvatar runs the avatar pipeline for the authenticated user.
// @Summary      Update avatar
// @Description  Fetch an image, resize to 250x250 and publish it under /avatars.
// @Tags         users
// @Security     BearerAuth
// @Accept       json
// @Accept       mpfd
// @Produce      json
// @Param        request body UpdateAvatarRequest false "Avatar source URL or email"
// @Success      200 {object} map[string]string
// @Failure      401 {object} httputil.ErrorResponse
// @Failure      500 {object} httputil.ErrorResponse
// @Router       /users/avatars [patch]
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	current, ok := GetUserFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "not authorized", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	source := avatarSource(r)

	filename, err := h.service.UpdateAvatar(r.Context(), current, source)
	if err != nil {
		logger.Error("avatar update failed", "user_id", current.ID, "error", err.Error())
		httputil.RespondErrorWithCode(w, "error updating avatar", httputil.CodeAvatarUpdateFailed, http.StatusInternalServerError)
		return
	}

	logger.Info("avatar updated", "user_id", current.ID, "avatar", filename)

	httputil.RespondJSON(w, map[string]string{
		"message":    "Avatar updated successfully",
		"avatar_url": filename,
	}, http.StatusOK)
}

// VerifyEmail consumes a verification link token.
// @Summary      Verify email address
// @Tags         users
// @Produce      json
// @Param        verificationToken path string true "Verification token"
// @Success      200 {object} map[string]string
// @Failure      400 {object} httputil.ErrorResponse "Already verified"
// @Failure      404 {object} httputil.ErrorResponse "Unknown token"
// @Router       /users/verify/{verificationToken} [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token := chi.URLParam(r, "verificationToken")
	if token == "" {
		httputil.RespondErrorWithCode(w, "verification token required", httputil.CodeVerificationTokenRequired, http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			logger.Warn("verification failed: token not found")
			httputil.RespondErrorWithCode(w, "user not found", httputil.CodeUserNotFound, http.StatusNotFound)
		case errors.Is(err, ErrAlreadyVerified):
			logger.Warn("verification failed: already verified")
			httputil.RespondErrorWithCode(w, "user already verified", httputil.CodeAlreadyVerified, http.StatusBadRequest)
		default:
			logger.Error("verification failed: internal error", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("email verified")
	httputil.RespondJSON(w, map[string]string{"message": "Verification successful"}, http.StatusOK)
}

// ResendVerification re-sends the verification email.
// @Summary      Resend verification email
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body ResendVerificationRequest true "Email address"
// @Success      200 {object} map[string]string
// @Failure      400 {object} httputil.ErrorResponse "Missing email or already verified"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Failure      500 {object} httputil.ErrorResponse "Delivery failure"
// @Router       /users/verify [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "resend-verification") {
		return
	}

	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, ErrEmailRequired):
			httputil.RespondErrorWithCode(w, "missing required field email", httputil.CodeEmailRequired, http.StatusBadRequest)
		case errors.Is(err, user.ErrNotFound):
			logger.Warn("resend verification failed: user not found")
			httputil.RespondErrorWithCode(w, "user not found", httputil.CodeUserNotFound, http.StatusNotFound)
		case errors.Is(err, ErrAlreadyVerified):
			logger.Warn("resend verification failed: already verified")
			httputil.RespondErrorWithCode(w, "verification has already been passed", httputil.CodeAlreadyVerified, http.StatusBadRequest)
		default:
			logger.Error("resend verification failed", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to send verification email", httputil.CodeEmailSendFailed, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("verification email resent")
	httputil.RespondJSON(w, map[string]string{"message": "Verification email sent"}, http.StatusOK)
}

// limitByIP applies the fixed-window limiter for the given purpose and
// writes the 429 when exceeded. Redis failures are logged and the
// request allowed through.
func (h *Handler) limitByIP(w http.ResponseWriter, r *http.Request, purpose string) bool {
	logger := logging.GetLoggerFromContext(r.Context())
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	return false
}

// avatarSource extracts the avatar source from either a multipart form
// field or a JSON body. Empty means "use the caller's email".
func avatarSource(r *http.Request) string {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return ""
		}
		return r.FormValue("avatar_url")
	}

	var req UpdateAvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.AvatarURL
}

// getClientIP extracts the client IP, honoring proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
