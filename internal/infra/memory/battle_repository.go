package memory

import (
	"sync"

	"english-battle-service/internal/app"
	"english-battle-service/internal/domain"
)

// BattleRepository is an in-memory implementation of app.BattleRepository.
type BattleRepository struct {
	mu      sync.RWMutex
	battles map[string]*app.Battle
}

func NewBattleRepository() *BattleRepository {
	return &BattleRepository{
		battles: make(map[string]*app.Battle),
	}
}

func (r *BattleRepository) Add(battle *app.Battle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battles[battle.ID()] = battle
}

func (r *BattleRepository) Get(battleID string) (*app.Battle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	battle, ok := r.battles[battleID]
	return battle, ok
}

// OldestWaiting scans for the FIFO-fair matchmaking candidate. The returned
// battle may still lose the claim race; callers re-scan on claim failure.
func (r *BattleRepository) OldestWaiting(battleType domain.BattleType, level int, userID string, elo, window int) (*app.Battle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *app.Battle
	var bestSnap domain.Battle
	for _, battle := range r.battles {
		snap := battle.Snapshot()
		if snap.Status != domain.BattleWaiting || snap.Type != battleType || snap.Level != level {
			continue
		}
		if snap.Player1ID == userID {
			continue
		}
		if diff := snap.Player1EloBefore - elo; diff > window || diff < -window {
			continue
		}
		if best == nil || snap.CreatedAt.Before(bestSnap.CreatedAt) {
			best, bestSnap = battle, snap
		}
	}
	return best, best != nil
}

func (r *BattleRepository) All() []*app.Battle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*app.Battle, 0, len(r.battles))
	for _, battle := range r.battles {
		all = append(all, battle)
	}
	return all
}

func (r *BattleRepository) Remove(battleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.battles, battleID)
}
