package domain

import "time"

// ReviewStatus is the coarse lifecycle of a learner×word review record.
type ReviewStatus string

const (
	ReviewNew       ReviewStatus = "new"
	ReviewLearning  ReviewStatus = "learning"
	ReviewReviewing ReviewStatus = "reviewing"
	ReviewMastered  ReviewStatus = "mastered"
)

// QualityHistoryCap bounds the recorded quality scores per record; oldest
// entries are dropped first.
const QualityHistoryCap = 10

// InitialEaseFactor seeds new review records, per SM-2.
const InitialEaseFactor = 2.5

// ReviewRecord is the spaced-repetition state for one learner and one
// vocabulary word. It is created on first exposure and mutated only by the
// review engine; it is never deleted.
type ReviewRecord struct {
	UserID             string       `json:"userId"`
	WordID             string       `json:"wordId"`
	Status             ReviewStatus `json:"status"`
	EaseFactor         float64      `json:"easeFactor"` // never below 1.3
	IntervalDays       int          `json:"intervalDays"`
	Repetitions        int          `json:"repetitions"`
	ConsecutiveCorrect int          `json:"consecutiveCorrect"`
	TimesCorrect       int          `json:"timesCorrect"`
	TimesIncorrect     int          `json:"timesIncorrect"`
	MasteryLevel       int          `json:"masteryLevel"` // 0..5
	QualityHistory     []int        `json:"qualityHistory"`
	LastReviewDate     *time.Time   `json:"lastReviewDate,omitempty"`
	NextReviewDate     *time.Time   `json:"nextReviewDate,omitempty"`
	MasteredAt         *time.Time   `json:"masteredAt,omitempty"` // set once, kept forever

	// Version supports optimistic concurrency in persistent stores.
	Version int64 `json:"-"`
}

// NewReviewRecord creates the record for a word the learner sees for the
// first time.
func NewReviewRecord(userID, wordID string) ReviewRecord {
	return ReviewRecord{
		UserID:     userID,
		WordID:     wordID,
		Status:     ReviewNew,
		EaseFactor: InitialEaseFactor,
	}
}

// Due reports whether the record should be reviewed at the given time. A
// record with no scheduled review yet is always due.
func (r ReviewRecord) Due(now time.Time) bool {
	return r.NextReviewDate == nil || !r.NextReviewDate.After(now)
}
