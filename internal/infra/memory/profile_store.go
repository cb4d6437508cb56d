package memory

import (
	"context"
	"sync"

	"english-battle-service/internal/domain"
)

// DefaultEloRating seeds new profiles.
const DefaultEloRating = 1000

// ProfileStore is an in-memory implementation of app.ProfileStore. Profiles
// are created on first access so demo setups need no seeding step.
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*domain.Profile),
	}
}

func (s *ProfileStore) Get(_ context.Context, userID string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(userID), nil
}

// Apply runs fn against the live profile under the store lock, so rating,
// streak and reward updates land together.
func (s *ProfileStore) Apply(_ context.Context, userID string, fn func(*domain.Profile)) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.getOrCreateLocked(userID)
	fn(profile)
	return *profile, nil
}

func (s *ProfileStore) getOrCreateLocked(userID string) *domain.Profile {
	if profile, ok := s.profiles[userID]; ok {
		return profile
	}
	profile := &domain.Profile{
		UserID:    userID,
		EloRating: DefaultEloRating,
	}
	s.profiles[userID] = profile
	return profile
}
