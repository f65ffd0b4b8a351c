package user

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidSubscription = errors.New("subscription must be one of: starter, pro, business")

// Subscription is the account tier.
type Subscription string

const (
	SubscriptionStarter  Subscription = "starter"
	SubscriptionPro      Subscription = "pro"
	SubscriptionBusiness Subscription = "business"
)

// Valid reports whether s is a known tier.
func (s Subscription) Valid() bool {
	switch s {
	case SubscriptionStarter, SubscriptionPro, SubscriptionBusiness:
		return true
	}
	return false
}

// ParseSubscription validates a raw tier value.
func ParseSubscription(raw string) (Subscription, error) {
	s := Subscription(raw)
	if !s.Valid() {
		return "", ErrInvalidSubscription
	}
	return s, nil
}

type User struct {
	ID           uuid.UUID    `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"` // never exposed in JSON
	Subscription Subscription `json:"subscription"`
	AvatarURL    string       `json:"avatar_url,omitempty"`
	// Token is the most recently issued bearer token, nil after logout.
	// Clearing it does not invalidate a signed token that is still within
	// its expiry; token validity is checked statelessly by the middleware.
	Token             *string   `json:"-"`
	Verified          bool      `json:"verified"`
	VerificationToken *string   `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
