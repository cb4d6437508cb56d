package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"english-battle-service/internal/domain"
	"english-battle-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionRepository caches per-level question sets in Redis and writes
// usage statistics with atomic increments, so answers racing across battles
// and across instances never lose updates.
//
// Keys:
//
//	questions:level:{level}   JSON-encoded question slice, TTL'd
//	question:stats:{id}       hash {times_used, times_correct, total_time_ms}
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) QuestionsForLevel(ctx context.Context, level int) ([]domain.Question, error) {
	key := r.levelKey(level)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		return decodeQuestions(raw)
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := r.client.Get(ctx, key).Bytes()
		if err == nil {
			return decodeQuestions(raw)
		}

		questions, err := r.loader.LoadQuestions(ctx, level)
		if err != nil {
			return nil, err
		}

		encoded, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("encode questions: %w", err)
		}
		_ = r.client.Set(ctx, key, encoded, r.ttlWithJitter()).Err()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// RecordUsage folds one answer into the question's counters via HIncrBy, an
// atomic read-modify-write on the Redis side.
func (r *QuestionRepository) RecordUsage(ctx context.Context, questionID string, correct bool, timeMs int) error {
	key := r.statsKey(questionID)
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, "times_used", 1)
	if correct {
		pipe.HIncrBy(ctx, key, "times_correct", 1)
	}
	pipe.HIncrBy(ctx, key, "total_time_ms", int64(timeMs))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Stats derives the aggregate view from the stored counters.
func (r *QuestionRepository) Stats(ctx context.Context, questionID string) (domain.QuestionStats, error) {
	fields, err := r.client.HGetAll(ctx, r.statsKey(questionID)).Result()
	if err != nil {
		return domain.QuestionStats{}, fmt.Errorf("load stats: %w", err)
	}
	stats := domain.QuestionStats{QuestionID: questionID}
	used, _ := strconv.Atoi(fields["times_used"])
	if used == 0 {
		return stats, nil
	}
	correct, _ := strconv.Atoi(fields["times_correct"])
	totalMs, _ := strconv.ParseInt(fields["total_time_ms"], 10, 64)
	stats.TimesUsed = used
	stats.TimesCorrect = correct
	stats.AccuracyRate = float64(correct) / float64(used)
	stats.AvgAnswerTimeMs = float64(totalMs) / float64(used)
	return stats, nil
}

func (r *QuestionRepository) levelKey(level int) string {
	return "questions:level:" + strconv.Itoa(level)
}

func (r *QuestionRepository) statsKey(questionID string) string {
	return "question:stats:" + questionID
}

func decodeQuestions(raw []byte) ([]domain.Question, error) {
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return questions, nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
