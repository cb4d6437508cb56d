package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"english-battle-service/internal/app"
	"english-battle-service/internal/domain"
	"english-battle-service/internal/infra/memory"
)

type battleFixture struct {
	service   *app.BattleService
	questions *memory.QuestionRepository
	profiles  *memory.ProfileStore
	battles   *memory.BattleRepository
	now       *time.Time
}

func newBattleFixture(t *testing.T) *battleFixture {
	t.Helper()
	levels := map[int][]domain.Question{1: nil}
	for i := 1; i <= 12; i++ {
		levels[1] = append(levels[1], domain.Question{
			ID:            fmt.Sprintf("q%02d", i),
			Level:         1,
			Prompt:        fmt.Sprintf("question %d", i),
			CorrectAnswer: fmt.Sprintf("answer %d", i),
			BasePoints:    10,
			TimeBonusMax:  5,
			Active:        true,
		})
	}
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(levels), 5*time.Minute)
	profiles := memory.NewProfileStore()
	battles := memory.NewBattleRepository()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := 0
	service := app.NewBattleServiceWithClock(battles, questions, profiles, func() time.Time { return now }, func() string {
		ids++
		return fmt.Sprintf("battle-%d", ids)
	})
	return &battleFixture{service: service, questions: questions, profiles: profiles, battles: battles, now: &now}
}

// matchUp runs matchmaking for both players and returns the started battle.
func (f *battleFixture) matchUp(t *testing.T, battleType domain.BattleType) domain.Battle {
	t.Helper()
	ctx := context.Background()
	first, err := f.service.FindMatch(ctx, "p1", battleType, 1)
	if err != nil {
		t.Fatalf("p1 find match: %v", err)
	}
	if first.Joined || first.Battle.Status != domain.BattleWaiting {
		t.Fatalf("p1 should open a waiting battle, got joined=%v status=%s", first.Joined, first.Battle.Status)
	}

	second, err := f.service.FindMatch(ctx, "p2", battleType, 1)
	if err != nil {
		t.Fatalf("p2 find match: %v", err)
	}
	if !second.Joined || !second.Started {
		t.Fatalf("p2 should join and start, got %+v", second)
	}
	if second.Battle.ID != first.Battle.ID {
		t.Fatalf("p2 should join p1's battle")
	}
	if second.Battle.Status != domain.BattleInProgress {
		t.Fatalf("joined battle should be in progress, got %s", second.Battle.Status)
	}
	return second.Battle
}

// correctAnswer returns the snapshotted answer for a round.
func correctAnswer(t *testing.T, svc *app.BattleService, battleID string, roundNumber int) string {
	t.Helper()
	snap, err := svc.Battle(battleID)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	return snap.Rounds[roundNumber-1].QuestionData.CorrectAnswer
}

func TestMatchmakingCreatesThenJoins(t *testing.T) {
	f := newBattleFixture(t)
	battle := f.matchUp(t, domain.BattleTypeCasual)

	if len(battle.Rounds) != app.RoundsPerBattle {
		t.Fatalf("want %d snapshot rounds, got %d", app.RoundsPerBattle, len(battle.Rounds))
	}
	if battle.Rounds[0].Status != domain.RoundActive {
		t.Fatalf("round 1 should be active")
	}
	for _, round := range battle.Rounds[1:] {
		if round.Status != domain.RoundPending {
			t.Fatalf("round %d should be pending, got %s", round.RoundNumber, round.Status)
		}
	}
	seen := map[string]bool{}
	for _, round := range battle.Rounds {
		if seen[round.QuestionID] {
			t.Fatalf("question %s drawn twice in one battle", round.QuestionID)
		}
		seen[round.QuestionID] = true
	}
}

func TestMatchmakingRespectsEloWindow(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()

	if _, err := f.profiles.Apply(ctx, "strong", func(p *domain.Profile) { p.EloRating = 1500 }); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	if _, err := f.service.FindMatch(ctx, "p1", domain.BattleTypeCasual, 1); err != nil {
		t.Fatalf("p1 find match: %v", err)
	}
	res, err := f.service.FindMatch(ctx, "strong", domain.BattleTypeCasual, 1)
	if err != nil {
		t.Fatalf("strong find match: %v", err)
	}
	if res.Joined {
		t.Fatalf("a 1500-rated player must not match a 1000-rated waiting battle")
	}
}

func TestMatchmakingPrefersOldestWaiting(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()

	// p3 sits outside p1's rating window, so two casual battles can wait at
	// once; p4 is compatible with both.
	if _, err := f.profiles.Apply(ctx, "p3", func(p *domain.Profile) { p.EloRating = 1250 }); err != nil {
		t.Fatalf("seed p3: %v", err)
	}
	if _, err := f.profiles.Apply(ctx, "p4", func(p *domain.Profile) { p.EloRating = 1100 }); err != nil {
		t.Fatalf("seed p4: %v", err)
	}

	older, err := f.service.FindMatch(ctx, "p1", domain.BattleTypeCasual, 1)
	if err != nil {
		t.Fatalf("p1: %v", err)
	}
	*f.now = f.now.Add(time.Minute)
	if _, err := f.service.FindMatch(ctx, "p2", domain.BattleTypeRanked, 1); err != nil {
		t.Fatalf("p2: %v", err)
	}
	*f.now = f.now.Add(time.Minute)
	if res, err := f.service.FindMatch(ctx, "p3", domain.BattleTypeCasual, 1); err != nil || res.Joined {
		t.Fatalf("p3 should open its own battle, got joined=%v err=%v", res.Joined, err)
	}

	res, err := f.service.FindMatch(ctx, "p4", domain.BattleTypeCasual, 1)
	if err != nil {
		t.Fatalf("p4: %v", err)
	}
	if !res.Joined || res.Battle.ID != older.Battle.ID {
		t.Fatalf("p4 should join the oldest casual battle %s, got %+v", older.Battle.ID, res)
	}
	if res.Battle.Type != domain.BattleTypeCasual {
		t.Fatalf("battle type must match the request")
	}
}

func TestDuplicateAnswerIsSoftError(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()
	battle := f.matchUp(t, domain.BattleTypeCasual)

	answer := correctAnswer(t, f.service, battle.ID, 1)
	first, err := f.service.SubmitAnswer(ctx, battle.ID, 1, "p1", answer, 1000)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.WaitingForOpponent {
		t.Fatalf("single answer should wait for the opponent")
	}

	_, err = f.service.SubmitAnswer(ctx, battle.ID, 1, "p1", "something else", 2000)
	if !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("want ErrAlreadyAnswered, got %v", err)
	}

	// The duplicate must not have changed the recorded answer or score.
	snap, _ := f.service.Battle(battle.ID)
	if got := snap.Rounds[0].Player1.Answer; got != answer {
		t.Fatalf("duplicate overwrote the answer: %q", got)
	}
	if snap.Rounds[0].Status != domain.RoundActive {
		t.Fatalf("round must not resolve on a duplicate")
	}
}

func TestTieRoundHasNoWinner(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()
	battle := f.matchUp(t, domain.BattleTypeCasual)

	if _, err := f.service.SubmitAnswer(ctx, battle.ID, 1, "p1", "wrong", 1000); err != nil {
		t.Fatalf("p1 submit: %v", err)
	}
	outcome, err := f.service.SubmitAnswer(ctx, battle.ID, 1, "p2", "also wrong", 2000)
	if err != nil {
		t.Fatalf("p2 submit: %v", err)
	}
	if !outcome.RoundCompleted {
		t.Fatalf("second answer should complete the round")
	}
	if outcome.RoundWinnerID != "" {
		t.Fatalf("both-wrong round must have no winner, got %q", outcome.RoundWinnerID)
	}
	snap, _ := f.service.Battle(battle.ID)
	if snap.Rounds[0].Player1.Points != 0 || snap.Rounds[0].Player2.Points != 0 {
		t.Fatalf("both players must score 0 on wrong answers")
	}
	if outcome.NextRoundNumber != 2 {
		t.Fatalf("round 2 should activate, got %d", outcome.NextRoundNumber)
	}
}

func TestSubmitRejectsOutsiders(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()
	battle := f.matchUp(t, domain.BattleTypeCasual)

	if _, err := f.service.SubmitAnswer(ctx, battle.ID, 1, "intruder", "x", 0); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("want ErrNotParticipant, got %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, battle.ID, 2, "p1", "x", 0); !errors.Is(err, domain.ErrRoundNotActive) {
		t.Fatalf("pending round: want ErrRoundNotActive, got %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, battle.ID, 99, "p1", "x", 0); !errors.Is(err, domain.ErrRoundNotFound) {
		t.Fatalf("want ErrRoundNotFound, got %v", err)
	}
}

func TestRankedBattlePlayer1Wins(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()
	battle := f.matchUp(t, domain.BattleTypeRanked)

	var last app.SubmitOutcome
	for round := 1; round <= app.RoundsPerBattle; round++ {
		answer := correctAnswer(t, f.service, battle.ID, round)
		if _, err := f.service.SubmitAnswer(ctx, battle.ID, round, "p1", answer, app.AnswerTimeLimitMs); err != nil {
			t.Fatalf("p1 round %d: %v", round, err)
		}
		var err error
		last, err = f.service.SubmitAnswer(ctx, battle.ID, round, "p2", "wrong", app.AnswerTimeLimitMs)
		if err != nil {
			t.Fatalf("p2 round %d: %v", round, err)
		}
		if round < app.RoundsPerBattle && last.BattleCompleted {
			t.Fatalf("battle completed early at round %d", round)
		}
	}
	if !last.BattleCompleted || last.Completion == nil {
		t.Fatalf("tenth round's second answer should complete the battle")
	}

	snap, _ := f.service.Battle(battle.ID)
	if snap.Status != domain.BattleCompleted || snap.Result != domain.ResultPlayer1Win || snap.WinnerID != "p1" {
		t.Fatalf("want completed player1_win, got status=%s result=%s winner=%s", snap.Status, snap.Result, snap.WinnerID)
	}
	if snap.Player1Score != 100 || snap.Player2Score != 0 {
		t.Fatalf("want 100-0, got %d-%d", snap.Player1Score, snap.Player2Score)
	}
	if snap.EloChange != 16 {
		t.Fatalf("equal ratings, p1 win: want eloChange 16, got %d", snap.EloChange)
	}

	p1, _ := f.profiles.Get(ctx, "p1")
	p2, _ := f.profiles.Get(ctx, "p2")
	if p1.EloRating != 1016 || p2.EloRating != 984 {
		t.Fatalf("want 1016/984, got %d/%d", p1.EloRating, p2.EloRating)
	}
	if (p1.EloRating - 1000) != -(p2.EloRating - 1000) {
		t.Fatalf("elo deltas must be symmetric")
	}
	if p1.XP != 75 || p1.Coins != 38 {
		t.Fatalf("ranked winner rewards: want 75xp/38c, got %dxp/%dc", p1.XP, p1.Coins)
	}
	if p2.XP != 23 || p2.Coins != 8 {
		t.Fatalf("ranked loser rewards: want 23xp/8c, got %dxp/%dc", p2.XP, p2.Coins)
	}
	if p1.BattlesPlayed != 1 || p1.BattlesWon != 1 || p1.WinStreak != 1 || p1.BestWinStreak != 1 {
		t.Fatalf("winner bookkeeping off: %+v", p1)
	}
	if p2.BattlesPlayed != 1 || p2.BattlesWon != 0 || p2.WinStreak != 0 {
		t.Fatalf("loser bookkeeping off: %+v", p2)
	}

	// Further submissions cannot re-trigger completion.
	if _, err := f.service.SubmitAnswer(ctx, battle.ID, app.RoundsPerBattle, "p1", "x", 0); !errors.Is(err, domain.ErrRoundNotActive) {
		t.Fatalf("completed battle must reject answers, got %v", err)
	}
	if p1Again, _ := f.profiles.Get(ctx, "p1"); p1Again.XP != 75 {
		t.Fatalf("rewards must apply exactly once")
	}
}

func TestDrawBattle(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()
	battle := f.matchUp(t, domain.BattleTypeCasual)

	for round := 1; round <= app.RoundsPerBattle; round++ {
		answer := correctAnswer(t, f.service, battle.ID, round)
		if _, err := f.service.SubmitAnswer(ctx, battle.ID, round, "p1", answer, 5000); err != nil {
			t.Fatalf("p1 round %d: %v", round, err)
		}
		if _, err := f.service.SubmitAnswer(ctx, battle.ID, round, "p2", answer, 5000); err != nil {
			t.Fatalf("p2 round %d: %v", round, err)
		}
	}

	snap, _ := f.service.Battle(battle.ID)
	if snap.Result != domain.ResultDraw || snap.WinnerID != "" {
		t.Fatalf("want draw with no winner, got %s/%q", snap.Result, snap.WinnerID)
	}
	if snap.EloChange != 0 {
		t.Fatalf("equal ratings draw: want eloChange 0, got %d", snap.EloChange)
	}
	for _, round := range snap.Rounds {
		if round.WinnerID != "" {
			t.Fatalf("tied rounds must have no winner")
		}
	}

	p1, _ := f.profiles.Get(ctx, "p1")
	p2, _ := f.profiles.Get(ctx, "p2")
	if p1.XP != 15 || p1.Coins != 5 || p2.XP != 15 || p2.Coins != 5 {
		t.Fatalf("draw pays the base loser amounts to both, got p1=%d/%d p2=%d/%d", p1.XP, p1.Coins, p2.XP, p2.Coins)
	}
	if p1.BattlesWon != 0 || p2.BattlesWon != 0 {
		t.Fatalf("draws are not wins")
	}
}

func TestQuestionStatsWrittenThrough(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()
	battle := f.matchUp(t, domain.BattleTypeCasual)

	snap, _ := f.service.Battle(battle.ID)
	questionID := snap.Rounds[0].QuestionID
	answer := snap.Rounds[0].QuestionData.CorrectAnswer

	if _, err := f.service.SubmitAnswer(ctx, battle.ID, 1, "p1", answer, 4000); err != nil {
		t.Fatalf("p1: %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, battle.ID, 1, "p2", "wrong", 6000); err != nil {
		t.Fatalf("p2: %v", err)
	}

	stats := f.questions.Stats(questionID)
	if stats.TimesUsed != 2 || stats.TimesCorrect != 1 {
		t.Fatalf("want used=2 correct=1, got %+v", stats)
	}
	if stats.AccuracyRate != 0.5 {
		t.Fatalf("want accuracy 0.5, got %f", stats.AccuracyRate)
	}
	if stats.AvgAnswerTimeMs != 5000 {
		t.Fatalf("want avg 5000ms, got %f", stats.AvgAnswerTimeMs)
	}
}

func TestCancelBattle(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()

	res, err := f.service.FindMatch(ctx, "p1", domain.BattleTypeCasual, 1)
	if err != nil {
		t.Fatalf("find match: %v", err)
	}
	if err := f.service.CancelBattle(ctx, res.Battle.ID, "p1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap, _ := f.service.Battle(res.Battle.ID)
	if snap.Status != domain.BattleCancelled || snap.Result != domain.ResultPlayer1Forfeit {
		t.Fatalf("want cancelled/player1_forfeit, got %s/%s", snap.Status, snap.Result)
	}

	// Started battles cannot be cancelled.
	started := f.matchUp(t, domain.BattleTypeCasual)
	if err := f.service.CancelBattle(ctx, started.ID, "p1"); !errors.Is(err, domain.ErrBattleNotCancellable) {
		t.Fatalf("want ErrBattleNotCancellable, got %v", err)
	}
}

func TestSweepAbandoned(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()

	if _, err := f.service.FindMatch(ctx, "p1", domain.BattleTypeCasual, 1); err != nil {
		t.Fatalf("find match: %v", err)
	}
	*f.now = f.now.Add(30 * time.Minute)

	if n := f.service.SweepAbandoned(10 * time.Minute); n != 1 {
		t.Fatalf("want 1 cancelled battle, got %d", n)
	}
	if battles := f.battles.All(); len(battles) != 0 {
		t.Fatalf("swept battles should leave the repository, %d remain", len(battles))
	}
}

func TestBattleEventsStream(t *testing.T) {
	f := newBattleFixture(t)
	ctx := context.Background()

	res, err := f.service.FindMatch(ctx, "p1", domain.BattleTypeCasual, 1)
	if err != nil {
		t.Fatalf("find match: %v", err)
	}
	events, cancel, err := f.service.Subscribe(res.Battle.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := f.service.FindMatch(ctx, "p2", domain.BattleTypeCasual, 1); err != nil {
		t.Fatalf("p2 find match: %v", err)
	}

	first := <-events
	if first.Type != domain.EventBattleStarted {
		t.Fatalf("want battle_started first, got %s", first.Type)
	}
	second := <-events
	if second.Type != domain.EventRoundStarted || second.RoundNumber != 1 {
		t.Fatalf("want round_started for round 1, got %s/%d", second.Type, second.RoundNumber)
	}
}
