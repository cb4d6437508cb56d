package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	mrand "math/rand"
	"time"

	"english-battle-service/internal/domain"
)

// BattleRepository abstracts how live battles are stored (in-memory, Redis
// liveness-marked). Battles are ephemeral session state, not durable rows.
type BattleRepository interface {
	Add(battle *Battle)
	Get(battleID string) (*Battle, bool)
	// OldestWaiting returns the oldest waiting battle of the given type and
	// level whose player1 is not userID and whose rating is within window of
	// elo. The claim itself happens on the battle entity and may still lose
	// a race.
	OldestWaiting(battleType domain.BattleType, level int, userID string, elo, window int) (*Battle, bool)
	All() []*Battle
	Remove(battleID string)
}

// QuestionRepository supplies battle content and receives usage statistics.
type QuestionRepository interface {
	QuestionsForLevel(ctx context.Context, level int) ([]domain.Question, error)
	RecordUsage(ctx context.Context, questionID string, correct bool, timeMs int) error
}

// ProfileStore is the external profile collaborator. Apply must run the
// mutation atomically against the latest profile state.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Apply(ctx context.Context, userID string, fn func(*domain.Profile)) (domain.Profile, error)
}

// BattleService contains the battle use cases: matchmaking, round play,
// completion and cancellation.
type BattleService struct {
	battles   BattleRepository
	questions QuestionRepository
	profiles  ProfileStore
	now       func() time.Time
	rnd       *mrand.Rand
	newID     func() string
}

func NewBattleService(battles BattleRepository, questions QuestionRepository, profiles ProfileStore) *BattleService {
	return &BattleService{
		battles:   battles,
		questions: questions,
		profiles:  profiles,
		now:       time.Now,
		rnd:       mrand.New(mrand.NewSource(time.Now().UnixNano())),
		newID:     randomID,
	}
}

// NewBattleServiceWithClock is test-only for deterministic timestamps and IDs.
func NewBattleServiceWithClock(battles BattleRepository, questions QuestionRepository, profiles ProfileStore, now func() time.Time, newID func() string) *BattleService {
	s := NewBattleService(battles, questions, profiles)
	s.now = now
	s.newID = newID
	return s
}

// MatchResult tells the caller whether they joined an existing battle (and
// play begins) or created a new one (and wait for an opponent).
type MatchResult struct {
	Battle  domain.Battle
	Joined  bool
	Started bool
}

// FindMatch pairs the requester with the oldest compatible waiting battle,
// or opens a new waiting battle. Joining claims the battle atomically; the
// loser of a claim race retries once with fresh state before opening its own
// battle. A successful join also starts the battle.
func (s *BattleService) FindMatch(ctx context.Context, userID string, battleType domain.BattleType, level int) (MatchResult, error) {
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return MatchResult{}, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		candidate, ok := s.battles.OldestWaiting(battleType, level, userID, profile.EloRating, EloMatchWindow)
		if !ok {
			break
		}
		if err := candidate.Claim(userID, profile.EloRating); err != nil {
			// Someone else claimed it first; look again.
			continue
		}
		if err := s.StartBattle(ctx, candidate.ID()); err != nil {
			return MatchResult{}, err
		}
		return MatchResult{Battle: candidate.Snapshot(), Joined: true, Started: true}, nil
	}

	battle := NewBattleWithClock(s.newID(), battleType, level, userID, profile.EloRating, s.now)
	s.battles.Add(battle)
	return MatchResult{Battle: battle.Snapshot()}, nil
}

// StartBattle draws ten distinct active questions for the battle's level,
// snapshots them into rounds and begins play.
func (s *BattleService) StartBattle(ctx context.Context, battleID string) error {
	battle, ok := s.battles.Get(battleID)
	if !ok {
		return domain.ErrBattleNotFound
	}

	level := battle.Snapshot().Level
	pool, err := s.questions.QuestionsForLevel(ctx, level)
	if err != nil {
		return err
	}
	active := pool[:0:0]
	for _, q := range pool {
		if q.Active {
			active = append(active, q)
		}
	}
	if len(active) < RoundsPerBattle {
		return domain.ErrNotEnoughQuestions
	}
	s.rnd.Shuffle(len(active), func(i, j int) {
		active[i], active[j] = active[j], active[i]
	})
	return battle.Start(active[:RoundsPerBattle])
}

// SubmitAnswer records one player's answer and, when it is the round's
// second answer, resolves the round and possibly the battle. Battle-level
// profile effects (rating, rewards, streaks) are applied here, after the
// entity committed the completion.
func (s *BattleService) SubmitAnswer(ctx context.Context, battleID string, roundNumber int, userID, answer string, timeMs int) (SubmitOutcome, error) {
	battle, ok := s.battles.Get(battleID)
	if !ok {
		return SubmitOutcome{}, domain.ErrBattleNotFound
	}

	outcome, err := battle.Submit(userID, roundNumber, answer, timeMs)
	if err != nil {
		return SubmitOutcome{}, err
	}

	snap := battle.Snapshot()
	questionID := snap.Rounds[roundNumber-1].QuestionID
	if err := s.questions.RecordUsage(ctx, questionID, outcome.Correct, timeMs); err != nil {
		// Usage statistics are advisory; never fail the submission on them.
		log.Printf("record question usage %s: %v", questionID, err)
	}

	if outcome.BattleCompleted {
		if err := s.applyCompletion(ctx, snap, *outcome.Completion); err != nil {
			return SubmitOutcome{}, err
		}
	}
	return outcome, nil
}

// CancelBattle forfeits a battle that has not started yet. No rating or
// reward effects.
func (s *BattleService) CancelBattle(ctx context.Context, battleID, userID string) error {
	battle, ok := s.battles.Get(battleID)
	if !ok {
		return domain.ErrBattleNotFound
	}
	return battle.Cancel(userID)
}

// Battle returns a snapshot of one battle.
func (s *BattleService) Battle(battleID string) (domain.Battle, error) {
	battle, ok := s.battles.Get(battleID)
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return battle.Snapshot(), nil
}

// Subscribe returns a channel of events for one battle. The caller must
// invoke the returned cancel function.
func (s *BattleService) Subscribe(battleID string) (<-chan domain.BattleEvent, func(), error) {
	battle, ok := s.battles.Get(battleID)
	if !ok {
		return nil, nil, domain.ErrBattleNotFound
	}
	ch, cancel := battle.Subscribe()
	return ch, cancel, nil
}

// SweepAbandoned cancels battles stuck in waiting or ready longer than
// maxAge and drops finished battles from the repository. Returns how many
// battles were cancelled.
func (s *BattleService) SweepAbandoned(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	cancelled := 0
	for _, battle := range s.battles.All() {
		if battle.CancelIfStale(cutoff) {
			cancelled++
		}
		status := battle.Snapshot().Status
		if status == domain.BattleCancelled || status == domain.BattleCompleted {
			s.battles.Remove(battle.ID())
		}
	}
	return cancelled
}

// applyCompletion pushes the completion's profile effects to both players.
// The entity already committed the battle result, so these writes must not
// be skipped; an error here surfaces to the caller for retry.
func (s *BattleService) applyCompletion(ctx context.Context, snap domain.Battle, completion Completion) error {
	update := func(userID string, eloAfter int, reward Reward, won bool) error {
		_, err := s.profiles.Apply(ctx, userID, func(p *domain.Profile) {
			p.EloRating = eloAfter
			p.BattlesPlayed++
			if won {
				p.BattlesWon++
				p.WinStreak++
				if p.WinStreak > p.BestWinStreak {
					p.BestWinStreak = p.WinStreak
				}
			} else {
				p.WinStreak = 0
			}
			p.XP += reward.XP
			p.Coins += reward.Coins
		})
		return err
	}

	if err := update(snap.Player1ID, completion.Player1EloAfter, completion.Player1Reward, completion.WinnerID == snap.Player1ID); err != nil {
		return err
	}
	return update(snap.Player2ID, completion.Player2EloAfter, completion.Player2Reward, completion.WinnerID == snap.Player2ID)
}

func randomID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "battle-" + hex.EncodeToString(buf)
}
