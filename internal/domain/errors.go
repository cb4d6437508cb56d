package domain

import "errors"

var (
	// ErrInvalidQuality is returned for recall-quality scores outside 0..5.
	ErrInvalidQuality = errors.New("quality score must be between 0 and 5")
	// ErrReviewConflict indicates concurrent updates exhausted the
	// optimistic retry; the caller should re-submit.
	ErrReviewConflict = errors.New("review record was modified concurrently")
	// ErrReviewNotFound is returned when no record exists for a
	// learner×word pair.
	ErrReviewNotFound = errors.New("review record not found")

	// ErrBattleNotFound is returned when a battle ID is unknown.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrBattleUnavailable means a waiting battle was claimed by someone
	// else first; matchmaking should retry with fresh state.
	ErrBattleUnavailable = errors.New("battle already claimed")
	// ErrBattleNotJoinable is returned for joins on battles that are not
	// waiting for an opponent.
	ErrBattleNotJoinable = errors.New("battle is not waiting for an opponent")
	// ErrBattleNotCancellable is returned for cancellations after a battle
	// has started.
	ErrBattleNotCancellable = errors.New("battle can no longer be cancelled")
	// ErrBattleNotStartable is returned when starting a battle that is not
	// in the ready state.
	ErrBattleNotStartable = errors.New("battle is not ready to start")
	// ErrNotParticipant is returned when a user acts on a battle they are
	// not part of.
	ErrNotParticipant = errors.New("user is not a participant in this battle")
	// ErrRoundNotActive is returned for answers to pending or completed
	// rounds.
	ErrRoundNotActive = errors.New("round is not active")
	// ErrRoundNotFound is returned for round numbers outside the battle.
	ErrRoundNotFound = errors.New("round not found in battle")
	// ErrAlreadyAnswered is the idempotency guard for duplicate answer
	// submissions. It is a soft error: the duplicate was ignored, nothing
	// was malformed.
	ErrAlreadyAnswered = errors.New("player already answered this round")

	// ErrQuestionNotFound indicates a question ID could not be loaded.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNotEnoughQuestions is a content-configuration error: a level does
	// not hold enough active questions to fill a battle.
	ErrNotEnoughQuestions = errors.New("not enough active questions for level")

	// ErrProfileNotFound is returned when a player profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
)
