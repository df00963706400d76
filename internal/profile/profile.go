// Package profile owns user profile records. The cohort core consumes them
// read-only; writes happen through the waitlist signup flow.
package profile

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrExists   = errors.New("profile already exists")
	ErrInvalid  = errors.New("invalid profile")
)

// Profile is the collaborator entity behind memberships.
type Profile struct {
	UserID        string    `json:"user_id"`
	Nickname      string    `json:"nickname"`
	Email         string    `json:"email"`
	WhatsApp      string    `json:"whatsapp"`
	Age           *int      `json:"age,omitempty"`
	Country       string    `json:"country,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	Profession    string    `json:"profession,omitempty"`
	LookingFor    []string  `json:"looking_for,omitempty"`
	AvailableFor  []string  `json:"available_for,omitempty"`
	ReferralCount int       `json:"referral_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// LeaderboardEntry is the public leaderboard row: no contact details.
type LeaderboardEntry struct {
	UserID        string `json:"user_id"`
	Nickname      string `json:"nickname"`
	Country       string `json:"country,omitempty"`
	ReferralCount int    `json:"referral_count"`
}

// Store is the profile persistence surface.
type Store interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, userID string) (Profile, error)
	// ByIDs fetches profiles for the given ids. Missing ids are skipped, not
	// errors: memberships and profiles have no enforced relational join.
	ByIDs(ctx context.Context, userIDs []string) (map[string]Profile, error)
	// Leaderboard lists profiles ordered by referral count, highest first.
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// Validate checks the fields signup requires.
func Validate(p *Profile) error {
	if strings.TrimSpace(p.Nickname) == "" {
		return ErrInvalid
	}
	if strings.TrimSpace(p.Email) == "" || !strings.Contains(p.Email, "@") {
		return ErrInvalid
	}
	if p.Age != nil && (*p.Age < 13 || *p.Age > 120) {
		return ErrInvalid
	}
	return nil
}
