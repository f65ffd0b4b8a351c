package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/avasilcai/accounts-api/internal/avatar"
	"github.com/avasilcai/accounts-api/internal/logging"
	"github.com/avasilcai/accounts-api/internal/user"
)

var (
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("email or password is wrong")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrAlreadyVerified    = errors.New("verification has already been passed")
)

// bcryptCost balances login latency against brute-force resistance.
const bcryptCost = 10

// Service owns the account flows: registration, verification, login,
// logout, subscription and avatar updates.
type Service struct {
	users         UserStore
	tokens        TokenService
	mailer        Mailer
	avatars       AvatarUpdater
	logger        *logging.Logger
	tokenDuration time.Duration
}

func NewService(
	users UserStore,
	tokens TokenService,
	mailer Mailer,
	avatars AvatarUpdater,
	logger *logging.Logger,
	tokenDuration time.Duration,
) *Service {
	return &Service{
		users:         users,
		tokens:        tokens,
		mailer:        mailer,
		avatars:       avatars,
		logger:        logger,
		tokenDuration: tokenDuration,
	}
}

// Register creates an unverified account with a default identicon
// avatar and a fresh verification token, then sends the verification
// email. The email goes out on its own goroutine: a delivery failure
// leaves the user persisted but unverified with nothing recorded beyond
// a log line.
func (s *Service) Register(ctx context.Context, email, password string) (*user.User, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	verificationToken := uuid.NewString()
	avatarURL := avatar.GravatarURL(email)

	newUser, err := s.users.Create(ctx, email, passwordHash, avatarURL, verificationToken)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, user.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	go func() {
		// Fresh context: the request context is gone by the time the
		// send completes.
		if err := s.mailer.SendVerificationEmail(context.Background(), email, verificationToken); err != nil {
			s.logger.Warn("failed to send verification email", "email", email, "error", err)
		}
	}()

	return newUser, nil
}

// Login authenticates a verified user, issues a bearer token and stores
// it on the user record. Credentials are validated against the same
// schema as registration before any lookup, so a malformed body never
// reaches the store. A concurrent login simply overwrites the prior
// token (last write wins).
func (s *Service) Login(ctx context.Context, email, password string) (string, *user.User, error) {
	if err := validateCredentials(email, password); err != nil {
		return "", nil, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", nil, user.ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !existing.Verified {
		return "", nil, ErrEmailNotVerified
	}

	if !verifyPassword(existing.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.CreateToken(existing.ID, existing.Email, s.tokenDuration)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create token: %w", err)
	}

	if err := s.users.UpdateToken(ctx, existing.ID, token); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	return token, existing, nil
}

// Logout clears the stored token. The signed token itself stays valid
// until its expiry; this is a soft logout.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.ClearToken(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token. A second call with the
// same token fails: the token no longer resolves once cleared.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	existing, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.ErrNotFound
		}
		return fmt.Errorf("failed to find user by verification token: %w", err)
	}

	if existing.Verified {
		return ErrAlreadyVerified
	}

	if err := s.users.MarkVerified(ctx, existing.ID); err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}

	return nil
}

// ResendVerification issues a fresh verification token to an unverified
// user and sends it, invalidating any previously mailed link. The send
// is synchronous so a delivery failure surfaces to the caller.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	if email == "" {
		return ErrEmailRequired
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.ErrNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	if existing.Verified {
		return ErrAlreadyVerified
	}

	verificationToken := uuid.NewString()
	if err := s.users.UpdateVerificationToken(ctx, existing.ID, verificationToken); err != nil {
		return fmt.Errorf("failed to update verification token: %w", err)
	}

	if err := s.mailer.SendVerificationEmail(ctx, email, verificationToken); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	return nil
}

// UpdateSubscription replaces the subscription tier.
func (s *Service) UpdateSubscription(ctx context.Context, userID uuid.UUID, raw string) (*user.User, error) {
	sub, err := user.ParseSubscription(raw)
	if err != nil {
		return nil, err
	}

	updated, err := s.users.UpdateSubscription(ctx, userID, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	return updated, nil
}

// UpdateAvatar runs the avatar pipeline and, only after the resized
// file is published, records the new filename. On any pipeline failure
// the user record is untouched.
func (s *Service) UpdateAvatar(ctx context.Context, u *user.User, source string) (string, error) {
	if source == "" {
		source = u.Email
	}

	filename, err := s.avatars.Update(ctx, u.ID, source)
	if err != nil {
		return "", err
	}

	if err := s.users.UpdateAvatarURL(ctx, u.ID, filename); err != nil {
		return "", fmt.Errorf("failed to store avatar url: %w", err)
	}

	return filename, nil
}

func validateCredentials(email, password string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > 254 {
		return ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmailFormat
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) < 6 {
		return ErrPasswordTooShort
	}
	return nil
}

// hashPassword produces a salted one-way bcrypt digest.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword compares in constant time via bcrypt.
func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
