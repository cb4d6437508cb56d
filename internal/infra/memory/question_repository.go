package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"english-battle-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question content from a backing store (e.g.,
// Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, level int) ([]domain.Question, error)
}

// QuestionRepository caches per-level question sets with TTL to avoid
// repeated backing-store hits, and keeps usage statistics under its own
// lock so concurrent battles never lose increments.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[int]cachedLevel
	stats map[string]*usageCounters
}

type cachedLevel struct {
	questions []domain.Question
	expiresAt time.Time
}

type usageCounters struct {
	timesUsed    int
	timesCorrect int
	totalTimeMs  int64
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int]cachedLevel),
		stats:  make(map[string]*usageCounters),
	}
}

func (r *QuestionRepository) QuestionsForLevel(ctx context.Context, level int) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[level]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(levelKey(level), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[level]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadQuestions(ctx, level)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[level] = cachedLevel{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// RecordUsage folds one answer into the question's running aggregates.
func (r *QuestionRepository) RecordUsage(_ context.Context, questionID string, correct bool, timeMs int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters, ok := r.stats[questionID]
	if !ok {
		counters = &usageCounters{}
		r.stats[questionID] = counters
	}
	counters.timesUsed++
	if correct {
		counters.timesCorrect++
	}
	counters.totalTimeMs += int64(timeMs)
	return nil
}

// Stats derives the aggregate view for one question.
func (r *QuestionRepository) Stats(questionID string) domain.QuestionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := domain.QuestionStats{QuestionID: questionID}
	counters, ok := r.stats[questionID]
	if !ok || counters.timesUsed == 0 {
		return stats
	}
	stats.TimesUsed = counters.timesUsed
	stats.TimesCorrect = counters.timesCorrect
	stats.AccuracyRate = float64(counters.timesCorrect) / float64(counters.timesUsed)
	stats.AvgAnswerTimeMs = float64(counters.totalTimeMs) / float64(counters.timesUsed)
	return stats
}

// StaticQuestionLoader is a simple loader backed by an in-memory map
// (useful for tests/demos).
type StaticQuestionLoader struct {
	levels map[int][]domain.Question
}

func NewStaticQuestionLoader(levels map[int][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{levels: levels}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, level int) ([]domain.Question, error) {
	questions, ok := l.levels[level]
	if !ok || len(questions) == 0 {
		return nil, domain.ErrQuestionNotFound
	}
	return questions, nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func levelKey(level int) string {
	return "level-" + strconv.Itoa(level)
}
