package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the bun model for the users table. The domain model lives in
// internal/user; repositories map between the two.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email             string    `bun:"email,unique,notnull"`
	PasswordHash      string    `bun:"password_hash,notnull"`
	Subscription      string    `bun:"subscription,notnull,default:'starter'"`
	AvatarURL         *string   `bun:"avatar_url"`
	Token             *string   `bun:"token"`
	Verified          bool      `bun:"verified,notnull,default:false"`
	VerificationToken *string   `bun:"verification_token"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
