package auth

import (
	"context"
	"strings"
	"time"
)

// Account is a user held by the auth provider. Profile data lives elsewhere.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider is the account surface of the hosted auth service. DeleteUser
// exists for the signup compensating path: if profile creation fails after
// the account was made, the account must be removed before returning.
type Provider interface {
	CreateUser(ctx context.Context, email, password string) (Account, error)
	DeleteUser(ctx context.Context, id string) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	Authenticate(ctx context.Context, email, password string) (Account, error)
}

// NormalizeEmail lowercases and trims an address for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
