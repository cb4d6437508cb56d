package app

import (
	"context"
	"math"
	"sort"
	"time"

	"english-battle-service/internal/domain"
)

// ReviewStore abstracts how review records are stored (in-memory, Postgres).
// Update must serialize concurrent mutations of the same record: the closure
// runs against the latest committed state, and two racing reviews of one
// record never overwrite each other.
type ReviewStore interface {
	Get(ctx context.Context, userID, wordID string) (domain.ReviewRecord, error)
	Update(ctx context.Context, userID, wordID string, fn func(*domain.ReviewRecord) error) (domain.ReviewRecord, error)
	ListByUser(ctx context.Context, userID string) ([]domain.ReviewRecord, error)
}

// ReviewService schedules vocabulary reviews with an SM-2 variant.
type ReviewService struct {
	records ReviewStore
	now     func() time.Time
}

func NewReviewService(records ReviewStore) *ReviewService {
	return &ReviewService{records: records, now: time.Now}
}

// NewReviewServiceWithClock is test-only for deterministic dates.
func NewReviewServiceWithClock(records ReviewStore, now func() time.Time) *ReviewService {
	return &ReviewService{records: records, now: now}
}

// ProcessReview applies one recall-quality score (0..5) to the learner's
// record for a word, creating the record on first exposure. Out-of-range
// quality is rejected, not clamped.
func (s *ReviewService) ProcessReview(ctx context.Context, userID, wordID string, quality int) (domain.ReviewRecord, error) {
	if quality < 0 || quality > 5 {
		return domain.ReviewRecord{}, domain.ErrInvalidQuality
	}
	today := s.now()
	return s.records.Update(ctx, userID, wordID, func(rec *domain.ReviewRecord) error {
		applyReview(rec, quality, today)
		return nil
	})
}

// DueWords returns up to limit records due for review, hardest first:
// never-reviewed words, then lowest ease factor, then most overdue.
func (s *ReviewService) DueWords(ctx context.Context, userID string, limit int) ([]domain.ReviewRecord, error) {
	all, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	due := make([]domain.ReviewRecord, 0, len(all))
	for _, rec := range all {
		if rec.Due(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if (due[i].Repetitions == 0) != (due[j].Repetitions == 0) {
			return due[i].Repetitions == 0
		}
		if due[i].EaseFactor != due[j].EaseFactor {
			return due[i].EaseFactor < due[j].EaseFactor
		}
		ni, nj := due[i].NextReviewDate, due[j].NextReviewDate
		if ni != nil && nj != nil && !ni.Equal(*nj) {
			return ni.Before(*nj)
		}
		return ni == nil && nj != nil
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// applyReview is the SM-2 update. The new ease factor is computed first and
// drives the interval growth; it never drops below 1.3.
func applyReview(rec *domain.ReviewRecord, quality int, today time.Time) {
	rec.QualityHistory = append(rec.QualityHistory, quality)
	if len(rec.QualityHistory) > domain.QualityHistoryCap {
		rec.QualityHistory = rec.QualityHistory[len(rec.QualityHistory)-domain.QualityHistoryCap:]
	}
	rec.LastReviewDate = &today

	q := float64(quality)
	ease := rec.EaseFactor + (0.1 - (5-q)*(0.08+(5-q)*0.02))
	if ease < 1.3 {
		ease = 1.3
	}
	rec.EaseFactor = ease

	if quality >= 3 {
		rec.TimesCorrect++
		rec.ConsecutiveCorrect++
		switch rec.Repetitions {
		case 0:
			rec.IntervalDays = 1
		case 1:
			rec.IntervalDays = 6
		default:
			rec.IntervalDays = int(math.Round(float64(rec.IntervalDays) * ease))
		}
		rec.Repetitions++
	} else {
		rec.TimesIncorrect++
		rec.ConsecutiveCorrect = 0
		rec.Repetitions = 0
		rec.IntervalDays = 1
	}

	next := today.AddDate(0, 0, rec.IntervalDays)
	rec.NextReviewDate = &next

	// Mastery banding, most restrictive first.
	switch {
	case rec.ConsecutiveCorrect >= 5 && rec.IntervalDays >= 32:
		rec.Status = domain.ReviewMastered
		rec.MasteryLevel = 5
		if rec.MasteredAt == nil {
			rec.MasteredAt = &today
		}
	case rec.IntervalDays >= 16:
		rec.Status = domain.ReviewReviewing
		rec.MasteryLevel = 4
	case rec.IntervalDays >= 8:
		rec.Status = domain.ReviewReviewing
		rec.MasteryLevel = 3
	case rec.Repetitions >= 2:
		rec.Status = domain.ReviewLearning
		rec.MasteryLevel = 2
	case rec.Repetitions >= 1:
		rec.Status = domain.ReviewLearning
		rec.MasteryLevel = 1
	default:
		rec.Status = domain.ReviewNew
		rec.MasteryLevel = 0
	}
}
