package domain

import "time"

// BattleType selects the reward multiplier for a match.
type BattleType string

const (
	BattleTypeCasual BattleType = "casual"
	BattleTypeRanked BattleType = "ranked"
)

// BattleStatus is the battle state machine. Transitions never regress.
type BattleStatus string

const (
	BattleWaiting    BattleStatus = "waiting"
	BattleReady      BattleStatus = "ready"
	BattleInProgress BattleStatus = "in_progress"
	BattleCompleted  BattleStatus = "completed"
	BattleCancelled  BattleStatus = "cancelled"
)

// BattleResult is set exactly once, at completion or forfeit.
type BattleResult string

const (
	ResultPlayer1Win     BattleResult = "player1_win"
	ResultPlayer2Win     BattleResult = "player2_win"
	ResultDraw           BattleResult = "draw"
	ResultPlayer1Forfeit BattleResult = "player1_forfeit"
	ResultPlayer2Forfeit BattleResult = "player2_forfeit"
)

// RoundStatus tracks a single round's lifecycle.
type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// Question is battle content. CorrectAnswer matching is case- and
// whitespace-insensitive.
type Question struct {
	ID            string `json:"id"`
	Level         int    `json:"level"`
	Prompt        string `json:"prompt"`
	CorrectAnswer string `json:"correctAnswer"`
	BasePoints    int    `json:"basePoints"` // defaults to 10 if zero
	TimeBonusMax  int    `json:"timeBonusMax"`
	Active        bool   `json:"active"`
}

// QuestionStats are running usage aggregates written back after every answer.
type QuestionStats struct {
	QuestionID      string  `json:"questionId"`
	TimesUsed       int     `json:"timesUsed"`
	TimesCorrect    int     `json:"timesCorrect"`
	AccuracyRate    float64 `json:"accuracyRate"`
	AvgAnswerTimeMs float64 `json:"avgAnswerTimeMs"`
}

// PlayerAnswer is one player's submission for one round. All fields stay
// zero until the player answers.
type PlayerAnswer struct {
	Answer     string     `json:"answer"`
	Answered   bool       `json:"answered"`
	Correct    bool       `json:"correct"`
	TimeMs     int        `json:"timeMs"`
	Points     int        `json:"points"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// Round is one question contested by both players. Question content is
// snapshotted at battle start so later edits to the bank cannot change an
// in-progress battle.
type Round struct {
	RoundNumber  int          `json:"roundNumber"` // 1-based
	QuestionID   string       `json:"questionId"`
	QuestionData Question     `json:"questionData"`
	Status       RoundStatus  `json:"status"`
	Player1      PlayerAnswer `json:"player1"`
	Player2      PlayerAnswer `json:"player2"`
	WinnerID     string       `json:"winnerId,omitempty"` // empty on tie
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
}

// Battle is one head-to-head match of ten rounds.
type Battle struct {
	ID               string       `json:"id"`
	Type             BattleType   `json:"type"`
	Level            int          `json:"level"`
	Status           BattleStatus `json:"status"`
	Player1ID        string       `json:"player1Id"`
	Player2ID        string       `json:"player2Id,omitempty"`
	Player1EloBefore int          `json:"player1EloBefore"`
	Player2EloBefore int          `json:"player2EloBefore"`
	Rounds           []Round      `json:"rounds,omitempty"`

	Player1Score   int `json:"player1Score"`
	Player2Score   int `json:"player2Score"`
	Player1Correct int `json:"player1Correct"`
	Player2Correct int `json:"player2Correct"`
	Player1TimeMs  int `json:"player1TimeMs"`
	Player2TimeMs  int `json:"player2TimeMs"`

	Result      BattleResult `json:"result,omitempty"`
	WinnerID    string       `json:"winnerId,omitempty"` // empty on draw or cancel
	EloChange   int          `json:"eloChange"`
	ForfeitedBy string       `json:"forfeitedBy,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	MatchedAt   *time.Time `json:"matchedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// HasPlayer reports whether userID is one of the two participants.
func (b Battle) HasPlayer(userID string) bool {
	return userID == b.Player1ID || (b.Player2ID != "" && userID == b.Player2ID)
}

// Profile is the external player collaborator: rating, currency and streak
// bookkeeping owned by the account system.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	EloRating     int    `json:"eloRating"`
	XP            int    `json:"xp"`
	Coins         int    `json:"coins"`
	BattlesPlayed int    `json:"battlesPlayed"`
	BattlesWon    int    `json:"battlesWon"`
	WinStreak     int    `json:"winStreak"`
	BestWinStreak int    `json:"bestWinStreak"`
}

// BattleEvent is a fire-and-forget notification fanned out to battle
// subscribers (websocket clients, future push integrations).
type BattleEvent struct {
	Type        string `json:"type"`
	BattleID    string `json:"battleId"`
	RoundNumber int    `json:"roundNumber,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Battle      Battle `json:"battle"`
}

// Battle event types.
const (
	EventBattleStarted   = "battle_started"
	EventRoundStarted    = "round_started"
	EventAnswerSubmitted = "answer_submitted"
	EventRoundCompleted  = "round_completed"
	EventBattleCompleted = "battle_completed"
	EventBattleCancelled = "battle_cancelled"
)
