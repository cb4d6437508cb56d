package redis

import (
	"context"
	"time"

	"english-battle-service/internal/app"
	"english-battle-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
)

// BattleRepository is a Redis-aware implementation of app.BattleRepository.
// Notes:
//   - Battle entities stay in a local in-memory repository so the existing
//     mutex-guarded round resolution keeps working.
//   - Redis marks battle liveness with TTL'd keys (and could be extended to
//     share snapshots or route cross-instance matchmaking).
type BattleRepository struct {
	*memory.BattleRepository
	client *redis.Client
	ttl    time.Duration
}

func NewBattleRepository(client *redis.Client, ttl time.Duration) *BattleRepository {
	return &BattleRepository{
		BattleRepository: memory.NewBattleRepository(),
		client:           client,
		ttl:              ttl,
	}
}

func (r *BattleRepository) Add(battle *app.Battle) {
	r.BattleRepository.Add(battle)
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(battle.ID()), "1", r.ttl).Err()
}

func (r *BattleRepository) Remove(battleID string) {
	r.BattleRepository.Remove(battleID)
	_ = r.client.Del(context.Background(), r.key(battleID)).Err()
}

func (r *BattleRepository) key(battleID string) string {
	return "battle:live:" + battleID
}
