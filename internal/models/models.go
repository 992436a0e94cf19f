package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Game statuses
const (
	GameScheduled  = "scheduled"
	GamePreGame    = "pre_game"
	GameInProgress = "in_progress"
	GameFinished   = "finished"
	GameExpired    = "expired"
	GameCancelled  = "cancelled"
)

// Game player statuses
const (
	PlayerRegistered = "registered"
	PlayerAlive      = "alive"
	PlayerEliminated = "eliminated"
	PlayerWinner     = "winner"
)

// User represents a registered participant, keyed by WhatsApp number
type User struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	WaID           string       `db:"wa_id" json:"wa_id"`
	DisplayName    string       `db:"display_name" json:"display_name"`
	IsActive       bool         `db:"is_active" json:"is_active"`
	LastActivityAt sql.NullTime `db:"last_activity_at" json:"last_activity_at,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// Game represents a scheduled trivia game
type Game struct {
	ID                   uuid.UUID    `db:"id" json:"id"`
	Status               string       `db:"status" json:"status"`
	StartAt              time.Time    `db:"start_at" json:"start_at"`
	PrizePool            float64      `db:"prize_pool" json:"prize_pool"`
	TotalQuestions       int          `db:"total_questions" json:"total_questions"`
	CurrentQuestionIndex int          `db:"current_question_index" json:"current_question_index"`
	WinnerCount          int          `db:"winner_count" json:"winner_count"`
	EndedAt              sql.NullTime `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt            time.Time    `db:"created_at" json:"created_at"`
}

// Question represents one multiple-choice question of a game
type Question struct {
	ID            uuid.UUID `db:"id" json:"id"`
	GameID        uuid.UUID `db:"game_id" json:"game_id"`
	QuestionOrder int       `db:"question_order" json:"question_order"`
	Text          string    `db:"text" json:"text"`
	CorrectAnswer string    `db:"correct_answer" json:"correct_answer"`
	OptionA       string    `db:"option_a" json:"option_a"`
	OptionB       string    `db:"option_b" json:"option_b"`
	OptionC       string    `db:"option_c" json:"option_c"`
	OptionD       string    `db:"option_d" json:"option_d"`
	TimeLimitMs   int       `db:"time_limit_ms" json:"time_limit_ms"`
}

// Options returns the four answer options in column order.
func (q *Question) Options() [4]string {
	return [4]string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}

// GamePlayer links a user to a game with play status
type GamePlayer struct {
	GameID               uuid.UUID     `db:"game_id" json:"game_id"`
	UserID               uuid.UUID     `db:"user_id" json:"user_id"`
	WaID                 string        `db:"wa_id" json:"wa_id"`
	Status               string        `db:"status" json:"status"`
	EliminatedAtQuestion sql.NullInt64 `db:"eliminated_at_question" json:"eliminated_at_question,omitempty"`
	CorrectCount         int           `db:"correct_count" json:"correct_count"`
	TotalCount           int           `db:"total_count" json:"total_count"`
	JoinedAt             time.Time     `db:"joined_at" json:"joined_at"`
}

// PlayerAnswer is the durable reporting copy of an evaluated answer
type PlayerAnswer struct {
	GameID         uuid.UUID `db:"game_id" json:"game_id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	QuestionID     uuid.UUID `db:"question_id" json:"question_id"`
	Selected       string    `db:"selected" json:"selected"`
	IsCorrect      bool      `db:"is_correct" json:"is_correct"`
	ResponseTimeMs int       `db:"response_time_ms" json:"response_time_ms"`
	QuestionNumber int       `db:"question_number" json:"question_number"`
	SubmittedAt    time.Time `db:"submitted_at" json:"submitted_at"`
}

// AdminAccount is an operator account for the admin API
type AdminAccount struct {
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	TokenHash   string    `db:"token_hash" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AdminAudit records one admin API action
type AdminAudit struct {
	ID        int       `db:"id" json:"id"`
	AdminUser string    `db:"admin_user" json:"admin_user"`
	IP        string    `db:"ip" json:"ip"`
	Route     string    `db:"route" json:"route"`
	Action    string    `db:"action" json:"action"`
	Details   []byte    `db:"details" json:"details"`
	Success   bool      `db:"success" json:"success"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
