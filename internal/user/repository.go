package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/avasilcai/accounts-api/internal/database"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Repository handles user persistence. Each method is a single read or
// write; routes perform at most one read-then-write pair and the small
// race windows (concurrent logins overwriting the token) are accepted.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new unverified user. Returns ErrDuplicateEmail when
// the email is already registered.
func (r *Repository) Create(ctx context.Context, email, passwordHash, avatarURL, verificationToken string) (*User, error) {
	dbUser := &database.User{
		Email:             email,
		PasswordHash:      passwordHash,
		Subscription:      string(SubscriptionStarter),
		AvatarURL:         &avatarURL,
		Verified:          false,
		VerificationToken: &verificationToken,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("email = ?", email).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByVerificationToken retrieves the user holding the given
// verification token. Verified users have the token cleared, so a used
// token no longer resolves.
func (r *Repository) GetByVerificationToken(ctx context.Context, token string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("verification_token = ?", token).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by verification token: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// UpdateToken records the most recently issued bearer token. Last write
// wins between concurrent logins.
func (r *Repository) UpdateToken(ctx context.Context, id uuid.UUID, token string) error {
	return r.updateOne(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("token = ?", token)
	})
}

// ClearToken removes the stored bearer token (soft logout).
func (r *Repository) ClearToken(ctx context.Context, id uuid.UUID) error {
	return r.updateOne(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("token = NULL")
	})
}

// MarkVerified flips the verified flag and clears the verification
// token so it can never be reused.
func (r *Repository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return r.updateOne(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("verified = TRUE").Set("verification_token = NULL")
	})
}

// UpdateSubscription replaces the subscription tier and returns the
// updated user.
func (r *Repository) UpdateSubscription(ctx context.Context, id uuid.UUID, sub Subscription) (*User, error) {
	dbUser := new(database.User)
	res, err := r.db.NewUpdate().
		Model(dbUser).
		Set("subscription = ?", string(sub)).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Returning("*").
		Exec(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return mapDBUserToModel(dbUser), nil
}

// UpdateAvatarURL replaces the avatar reference after the pipeline has
// published the resized file.
func (r *Repository) UpdateAvatarURL(ctx context.Context, id uuid.UUID, url string) error {
	return r.updateOne(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("avatar_url = ?", url)
	})
}

// UpdateVerificationToken replaces the verification token for an
// unverified user.
func (r *Repository) UpdateVerificationToken(ctx context.Context, id uuid.UUID, token string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("verification_token = ?", token).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("verified = ?", false).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update verification token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) updateOne(ctx context.Context, id uuid.UUID, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	q := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("updated_at = NOW()").
		Where("id = ?", id)

	result, err := apply(q).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// mapDBUserToModel converts the bun model to the domain model.
func mapDBUserToModel(dbu *database.User) *User {
	u := &User{
		ID:                dbu.ID,
		Email:             dbu.Email,
		PasswordHash:      dbu.PasswordHash,
		Subscription:      Subscription(dbu.Subscription),
		Token:             dbu.Token,
		Verified:          dbu.Verified,
		VerificationToken: dbu.VerificationToken,
		CreatedAt:         dbu.CreatedAt,
		UpdatedAt:         dbu.UpdatedAt,
	}
	if dbu.AvatarURL != nil {
		u.AvatarURL = *dbu.AvatarURL
	}
	return u
}
