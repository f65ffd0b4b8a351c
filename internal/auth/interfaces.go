package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avasilcai/accounts-api/internal/user"
)

// TokenService creates and validates bearer tokens. Implementations:
// JWTService (HS256) and PasetoService (PASETO v4.local). Validity is
// stateless: signature plus expiry, nothing else.
type TokenService interface {
	CreateToken(userID uuid.UUID, email string, duration time.Duration) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// UserStore is the slice of the user repository the auth layer uses.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash, avatarURL, verificationToken string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*user.User, error)
	UpdateToken(ctx context.Context, id uuid.UUID, token string) error
	ClearToken(ctx context.Context, id uuid.UUID) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	UpdateVerificationToken(ctx context.Context, id uuid.UUID, token string) error
	UpdateSubscription(ctx context.Context, id uuid.UUID, sub user.Subscription) (*user.User, error)
	UpdateAvatarURL(ctx context.Context, id uuid.UUID, url string) error
}

// Mailer sends transactional mail through the SMTP relay. Sends are not
// retried; a delivery failure is the caller's to handle.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
}

// AvatarUpdater runs the fetch/resize/publish pipeline and returns the
// published filename.
type AvatarUpdater interface {
	Update(ctx context.Context, userID uuid.UUID, source string) (string, error)
}
