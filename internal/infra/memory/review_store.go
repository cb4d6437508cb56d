package memory

import (
	"context"
	"sync"

	"english-battle-service/internal/domain"
)

// ReviewStore is an in-memory implementation of app.ReviewStore. The store
// lock serializes Update closures, so two concurrent reviews of the same
// record cannot interleave.
type ReviewStore struct {
	mu      sync.Mutex
	records map[reviewKey]domain.ReviewRecord
}

type reviewKey struct {
	userID string
	wordID string
}

func NewReviewStore() *ReviewStore {
	return &ReviewStore{
		records: make(map[reviewKey]domain.ReviewRecord),
	}
}

func (s *ReviewStore) Get(_ context.Context, userID, wordID string) (domain.ReviewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[reviewKey{userID, wordID}]
	if !ok {
		return domain.ReviewRecord{}, domain.ErrReviewNotFound
	}
	return rec, nil
}

// Update mutates the record for userID×wordID, creating it on first
// exposure.
func (s *ReviewStore) Update(_ context.Context, userID, wordID string, fn func(*domain.ReviewRecord) error) (domain.ReviewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reviewKey{userID, wordID}
	rec, ok := s.records[key]
	if !ok {
		rec = domain.NewReviewRecord(userID, wordID)
	}
	if err := fn(&rec); err != nil {
		return domain.ReviewRecord{}, err
	}
	rec.Version++
	s.records[key] = rec
	return rec, nil
}

func (s *ReviewStore) ListByUser(_ context.Context, userID string) ([]domain.ReviewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ReviewRecord
	for key, rec := range s.records {
		if key.userID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}
