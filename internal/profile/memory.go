package profile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store for tests and local development.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[string]Profile)}
}

func (s *InMemory) Create(ctx context.Context, p *Profile) error {
	if err := Validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; ok {
		return ErrExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.profiles[p.UserID] = *p
	return nil
}

func (s *InMemory) Get(ctx context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemory) ByIDs(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *InMemory) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]LeaderboardEntry, 0, len(s.profiles))
	for _, p := range s.profiles {
		entries = append(entries, LeaderboardEntry{
			UserID:        p.UserID,
			Nickname:      p.Nickname,
			Country:       p.Country,
			ReferralCount: p.ReferralCount,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ReferralCount == entries[j].ReferralCount {
			return entries[i].Nickname < entries[j].Nickname
		}
		return entries[i].ReferralCount > entries[j].ReferralCount
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Delete removes a profile. Used by the signup compensating path.
func (s *InMemory) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}
