package app

import (
	"math"
	"strings"
	"sync"
	"time"

	"english-battle-service/internal/domain"
)

// Battle tuning constants. These are deliberately named constants, not
// dynamic config: the round count and time limit define the game.
const (
	RoundsPerBattle   = 10
	AnswerTimeLimitMs = 15000
	EloKFactor        = 32
	EloFloor          = 100
	EloMatchWindow    = 200

	WinnerBaseXP     = 50
	WinnerBaseCoins  = 25
	LoserBaseXP      = 15
	LoserBaseCoins   = 5
	RankedMultiplier = 1.5
)

// Reward is the XP/coin payout for one player.
type Reward struct {
	XP    int `json:"xp"`
	Coins int `json:"coins"`
}

// Completion carries everything the completion sequence decided, so the
// service can apply profile effects without recomputing.
type Completion struct {
	Result          domain.BattleResult
	WinnerID        string
	EloChange       int
	Player1EloAfter int
	Player2EloAfter int
	Player1Reward   Reward
	Player2Reward   Reward
}

// SubmitOutcome reports what one answer submission caused.
type SubmitOutcome struct {
	RoundNumber        int
	Correct            bool
	Points             int
	TotalScore         int
	WaitingForOpponent bool
	RoundCompleted     bool
	RoundWinnerID      string
	NextRoundNumber    int // 0 when no round was activated
	BattleCompleted    bool
	Completion         *Completion
}

// Battle is the in-memory battle entity. One mutex serializes every state
// transition, so two racing answer submissions resolve a round exactly once
// and completion fires exactly once.
type Battle struct {
	mu          sync.RWMutex
	state       domain.Battle
	now         func() time.Time
	subscribers map[chan domain.BattleEvent]struct{}
}

// NewBattle creates a waiting battle for the requesting player.
func NewBattle(id string, battleType domain.BattleType, level int, player1ID string, player1Elo int) *Battle {
	return NewBattleWithClock(id, battleType, level, player1ID, player1Elo, time.Now)
}

// NewBattleWithClock is test-only for deterministic timestamps.
func NewBattleWithClock(id string, battleType domain.BattleType, level int, player1ID string, player1Elo int, now func() time.Time) *Battle {
	return &Battle{
		state: domain.Battle{
			ID:               id,
			Type:             battleType,
			Level:            level,
			Status:           domain.BattleWaiting,
			Player1ID:        player1ID,
			Player1EloBefore: player1Elo,
			CreatedAt:        now(),
		},
		now:         now,
		subscribers: make(map[chan domain.BattleEvent]struct{}),
	}
}

func (b *Battle) ID() string {
	return b.state.ID
}

// Snapshot returns a deep copy of the battle state.
func (b *Battle) Snapshot() domain.Battle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Battle) snapshotLocked() domain.Battle {
	snap := b.state
	snap.Rounds = make([]domain.Round, len(b.state.Rounds))
	copy(snap.Rounds, b.state.Rounds)
	return snap
}

// Claim atomically joins userID as player2 while the battle is still
// waiting. The loser of a claim race gets ErrBattleUnavailable.
func (b *Battle) Claim(userID string, elo int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if userID == b.state.Player1ID {
		return domain.ErrBattleNotJoinable
	}
	if b.state.Status != domain.BattleWaiting {
		return domain.ErrBattleUnavailable
	}
	now := b.now()
	b.state.Player2ID = userID
	b.state.Player2EloBefore = elo
	b.state.Status = domain.BattleReady
	b.state.MatchedAt = &now
	return nil
}

// Start snapshots the drawn questions into rounds and activates round 1.
func (b *Battle) Start(questions []domain.Question) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Status != domain.BattleReady {
		return domain.ErrBattleNotStartable
	}
	if len(questions) != RoundsPerBattle {
		return domain.ErrNotEnoughQuestions
	}

	now := b.now()
	rounds := make([]domain.Round, RoundsPerBattle)
	for i, q := range questions {
		rounds[i] = domain.Round{
			RoundNumber:  i + 1,
			QuestionID:   q.ID,
			QuestionData: q,
			Status:       domain.RoundPending,
		}
	}
	rounds[0].Status = domain.RoundActive
	rounds[0].StartedAt = &now

	b.state.Rounds = rounds
	b.state.Status = domain.BattleInProgress
	b.state.StartedAt = &now

	b.publishLocked(domain.EventBattleStarted, 0, "")
	b.publishLocked(domain.EventRoundStarted, 1, "")
	return nil
}

// Submit records one player's answer for a round. If this submission is the
// second one for the round, the round resolves in the same critical section;
// the tenth resolution also runs battle completion.
func (b *Battle) Submit(userID string, roundNumber int, answer string, timeMs int) (SubmitOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.HasPlayer(userID) {
		return SubmitOutcome{}, domain.ErrNotParticipant
	}
	if b.state.Status != domain.BattleInProgress {
		return SubmitOutcome{}, domain.ErrRoundNotActive
	}
	if roundNumber < 1 || roundNumber > len(b.state.Rounds) {
		return SubmitOutcome{}, domain.ErrRoundNotFound
	}
	round := &b.state.Rounds[roundNumber-1]
	if round.Status != domain.RoundActive {
		return SubmitOutcome{}, domain.ErrRoundNotActive
	}

	mine, theirs := &round.Player1, &round.Player2
	if userID == b.state.Player2ID {
		mine, theirs = &round.Player2, &round.Player1
	}
	if mine.Answered {
		return SubmitOutcome{}, domain.ErrAlreadyAnswered
	}

	now := b.now()
	correct := answerMatches(round.QuestionData.CorrectAnswer, answer)
	points := scoreAnswer(round.QuestionData, correct, timeMs)
	*mine = domain.PlayerAnswer{
		Answer:     answer,
		Answered:   true,
		Correct:    correct,
		TimeMs:     timeMs,
		Points:     points,
		AnsweredAt: &now,
	}

	outcome := SubmitOutcome{
		RoundNumber: roundNumber,
		Correct:     correct,
		Points:      points,
	}
	b.publishLocked(domain.EventAnswerSubmitted, roundNumber, userID)

	if !theirs.Answered {
		outcome.WaitingForOpponent = true
		outcome.TotalScore = b.totalScoreLocked(userID)
		return outcome, nil
	}

	b.resolveRoundLocked(round)
	outcome.RoundCompleted = true
	outcome.RoundWinnerID = round.WinnerID
	outcome.TotalScore = b.totalScoreLocked(userID)

	if b.completedRoundsLocked() == RoundsPerBattle {
		completion := b.completeLocked(now)
		outcome.BattleCompleted = true
		outcome.Completion = &completion
		b.publishLocked(domain.EventBattleCompleted, roundNumber, "")
		return outcome, nil
	}

	next := &b.state.Rounds[roundNumber]
	next.Status = domain.RoundActive
	next.StartedAt = &now
	outcome.NextRoundNumber = next.RoundNumber
	b.publishLocked(domain.EventRoundStarted, next.RoundNumber, "")
	return outcome, nil
}

// Cancel forfeits a battle that has not started.
func (b *Battle) Cancel(userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.HasPlayer(userID) {
		return domain.ErrNotParticipant
	}
	if b.state.Status != domain.BattleWaiting && b.state.Status != domain.BattleReady {
		return domain.ErrBattleNotCancellable
	}
	b.state.Status = domain.BattleCancelled
	b.state.ForfeitedBy = userID
	if userID == b.state.Player1ID {
		b.state.Result = domain.ResultPlayer1Forfeit
	} else {
		b.state.Result = domain.ResultPlayer2Forfeit
	}
	now := b.now()
	b.state.CompletedAt = &now
	b.publishLocked(domain.EventBattleCancelled, 0, userID)
	return nil
}

// CancelIfStale cancels a battle stuck before start for longer than the
// abandonment cutoff. Returns true if the battle was cancelled.
func (b *Battle) CancelIfStale(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Status != domain.BattleWaiting && b.state.Status != domain.BattleReady {
		return false
	}
	last := b.state.CreatedAt
	if b.state.MatchedAt != nil {
		last = *b.state.MatchedAt
	}
	if last.After(cutoff) {
		return false
	}
	b.state.Status = domain.BattleCancelled
	now := b.now()
	b.state.CompletedAt = &now
	b.publishLocked(domain.EventBattleCancelled, 0, "")
	return true
}

// Subscribe returns a channel of battle events. The caller must invoke the
// returned cancel function to avoid leaks.
func (b *Battle) Subscribe() (<-chan domain.BattleEvent, func()) {
	ch := make(chan domain.BattleEvent, 16)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Battle) publishLocked(eventType string, roundNumber int, userID string) {
	event := domain.BattleEvent{
		Type:        eventType,
		BattleID:    b.state.ID,
		RoundNumber: roundNumber,
		UserID:      userID,
		Battle:      b.snapshotLocked(),
	}
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest buffered event so slow clients never block
			// round resolution.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (b *Battle) totalScoreLocked(userID string) int {
	if userID == b.state.Player2ID {
		return b.state.Player2Score
	}
	return b.state.Player1Score
}

func (b *Battle) completedRoundsLocked() int {
	n := 0
	for i := range b.state.Rounds {
		if b.state.Rounds[i].Status == domain.RoundCompleted {
			n++
		}
	}
	return n
}

// resolveRoundLocked runs once per round, after both answers are in.
func (b *Battle) resolveRoundLocked(round *domain.Round) {
	round.Status = domain.RoundCompleted
	switch {
	case round.Player1.Points > round.Player2.Points:
		round.WinnerID = b.state.Player1ID
	case round.Player2.Points > round.Player1.Points:
		round.WinnerID = b.state.Player2ID
	}

	b.state.Player1Score += round.Player1.Points
	b.state.Player2Score += round.Player2.Points
	b.state.Player1TimeMs += round.Player1.TimeMs
	b.state.Player2TimeMs += round.Player2.TimeMs
	if round.Player1.Correct {
		b.state.Player1Correct++
	}
	if round.Player2.Correct {
		b.state.Player2Correct++
	}
	b.publishLocked(domain.EventRoundCompleted, round.RoundNumber, "")
}

// completeLocked runs exactly once, on the tenth round's resolution.
func (b *Battle) completeLocked(now time.Time) Completion {
	var result domain.BattleResult
	var winnerID string
	actual1 := 0.5
	switch {
	case b.state.Player1Score > b.state.Player2Score:
		result, winnerID, actual1 = domain.ResultPlayer1Win, b.state.Player1ID, 1
	case b.state.Player2Score > b.state.Player1Score:
		result, winnerID, actual1 = domain.ResultPlayer2Win, b.state.Player2ID, 0
	default:
		result = domain.ResultDraw
	}

	eloChange := eloDelta(b.state.Player1EloBefore, b.state.Player2EloBefore, actual1)
	elo1After := flooredElo(b.state.Player1EloBefore + eloChange)
	elo2After := flooredElo(b.state.Player2EloBefore - eloChange)

	multiplier := 1.0
	if b.state.Type == domain.BattleTypeRanked {
		multiplier = RankedMultiplier
	}
	winner := Reward{
		XP:    int(math.Round(WinnerBaseXP * multiplier)),
		Coins: int(math.Round(WinnerBaseCoins * multiplier)),
	}
	loser := Reward{
		XP:    int(math.Round(LoserBaseXP * multiplier)),
		Coins: int(math.Round(LoserBaseCoins * multiplier)),
	}

	completion := Completion{
		Result:          result,
		WinnerID:        winnerID,
		EloChange:       eloChange,
		Player1EloAfter: elo1After,
		Player2EloAfter: elo2After,
		Player1Reward:   loser,
		Player2Reward:   loser,
	}
	switch winnerID {
	case b.state.Player1ID:
		completion.Player1Reward = winner
	case b.state.Player2ID:
		completion.Player2Reward = winner
	}

	b.state.Status = domain.BattleCompleted
	b.state.Result = result
	b.state.WinnerID = winnerID
	b.state.EloChange = eloChange
	b.state.CompletedAt = &now
	return completion
}

// eloDelta is the standard ELO update for player1 with K=32: the winner
// gains exactly what the loser loses.
func eloDelta(elo1, elo2 int, actual1 float64) int {
	expected1 := 1 / (1 + math.Pow(10, float64(elo2-elo1)/400))
	return int(math.Round(EloKFactor * (actual1 - expected1)))
}

func flooredElo(elo int) int {
	if elo < EloFloor {
		return EloFloor
	}
	return elo
}

// answerMatches compares answers case- and whitespace-insensitively.
func answerMatches(correct, submitted string) bool {
	return strings.EqualFold(strings.TrimSpace(correct), strings.TrimSpace(submitted))
}

// scoreAnswer awards base points plus a linear time bonus: a correct answer
// at 0ms earns the full bonus, one at the limit or beyond earns none.
func scoreAnswer(q domain.Question, correct bool, timeMs int) int {
	if !correct {
		return 0
	}
	base := q.BasePoints
	if base == 0 {
		base = 10
	}
	remaining := 1 - float64(timeMs)/AnswerTimeLimitMs
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 1 {
		remaining = 1
	}
	return base + int(math.Round(float64(q.TimeBonusMax)*remaining))
}
