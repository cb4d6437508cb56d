package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"english-battle-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ReviewStore persists review records as JSONB rows with a version column.
// Update uses an optimistic check on the version: if another review of the
// same record committed in between, the closure re-runs once against the
// fresh state before giving up with ErrReviewConflict.
type ReviewStore struct {
	pool *pgxpool.Pool
}

func NewReviewStore(pool *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{pool: pool}
}

func (s *ReviewStore) Get(ctx context.Context, userID, wordID string) (domain.ReviewRecord, error) {
	rec, _, err := s.load(ctx, userID, wordID)
	return rec, err
}

func (s *ReviewStore) Update(ctx context.Context, userID, wordID string, fn func(*domain.ReviewRecord) error) (domain.ReviewRecord, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, version, err := s.load(ctx, userID, wordID)
		if errors.Is(err, domain.ErrReviewNotFound) {
			rec, version = domain.NewReviewRecord(userID, wordID), 0
		} else if err != nil {
			return domain.ReviewRecord{}, err
		}

		if err := fn(&rec); err != nil {
			return domain.ReviewRecord{}, err
		}
		rec.Version = version + 1

		data, err := json.Marshal(rec)
		if err != nil {
			return domain.ReviewRecord{}, fmt.Errorf("encode review record: %w", err)
		}

		if version == 0 {
			tag, err := s.pool.Exec(ctx,
				`INSERT INTO review_records (user_id, word_id, data, version)
				 VALUES ($1, $2, $3, 1)
				 ON CONFLICT (user_id, word_id) DO NOTHING`,
				userID, wordID, data)
			if err != nil {
				return domain.ReviewRecord{}, fmt.Errorf("insert review record: %w", err)
			}
			if tag.RowsAffected() == 1 {
				return rec, nil
			}
			continue // someone created it first, retry against their state
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE review_records SET data=$3, version=$4
			 WHERE user_id=$1 AND word_id=$2 AND version=$5`,
			userID, wordID, data, rec.Version, version)
		if err != nil {
			return domain.ReviewRecord{}, fmt.Errorf("update review record: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return rec, nil
		}
	}
	return domain.ReviewRecord{}, domain.ErrReviewConflict
}

func (s *ReviewStore) ListByUser(ctx context.Context, userID string) ([]domain.ReviewRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data, version FROM review_records WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list review records: %w", err)
	}
	defer rows.Close()

	var records []domain.ReviewRecord
	for rows.Next() {
		var raw []byte
		var version int64
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan review record: %w", err)
		}
		var rec domain.ReviewRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal review record: %w", err)
		}
		rec.Version = version
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list review records: %w", err)
	}
	return records, nil
}

func (s *ReviewStore) load(ctx context.Context, userID, wordID string) (domain.ReviewRecord, int64, error) {
	var raw []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT data, version FROM review_records WHERE user_id=$1 AND word_id=$2`,
		userID, wordID).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReviewRecord{}, 0, domain.ErrReviewNotFound
	}
	if err != nil {
		return domain.ReviewRecord{}, 0, fmt.Errorf("load review record: %w", err)
	}
	var rec domain.ReviewRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ReviewRecord{}, 0, fmt.Errorf("unmarshal review record: %w", err)
	}
	rec.Version = version
	return rec, version, nil
}
