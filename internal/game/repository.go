package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/models"
)

// Repository is the persistence surface the engine needs. Writes after game
// start are best-effort: the in-memory decision is authoritative and database
// failures never change an outcome already announced to players.
type Repository interface {
	GameByID(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	QuestionsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Question, error)
	PlayersByGame(ctx context.Context, gameID uuid.UUID) ([]models.GamePlayer, error)

	// ActivateGame moves pre_game -> in_progress and flips registered
	// players to alive.
	ActivateGame(ctx context.Context, gameID uuid.UUID) error
	SetCurrentQuestion(ctx context.Context, gameID uuid.UUID, index int) error
	SavePlayerResults(ctx context.Context, players []models.GamePlayer) error
	InsertPlayerAnswers(ctx context.Context, rows []models.PlayerAnswer) error
	FinishGame(ctx context.Context, gameID uuid.UUID, winnerCount int) error
	MarkWinners(ctx context.Context, gameID uuid.UUID) error
	CancelGame(ctx context.Context, gameID uuid.UUID) error
}

// PostgresRepo implements Repository on the relational schema.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GameByID(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	var game models.Game
	err := r.db.GetContext(ctx, &game, "SELECT * FROM games WHERE id = $1", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
	}
	return &game, nil
}

func (r *PostgresRepo) QuestionsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Question, error) {
	var questions []models.Question
	err := r.db.SelectContext(ctx, &questions,
		"SELECT * FROM questions WHERE game_id = $1 ORDER BY question_order", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for game %s: %w", gameID, err)
	}
	return questions, nil
}

func (r *PostgresRepo) PlayersByGame(ctx context.Context, gameID uuid.UUID) ([]models.GamePlayer, error) {
	var players []models.GamePlayer
	err := r.db.SelectContext(ctx, &players, `
		SELECT gp.game_id, gp.user_id, u.wa_id, gp.status, gp.eliminated_at_question,
		       gp.correct_count, gp.total_count, gp.joined_at
		FROM game_players gp
		JOIN users u ON u.id = gp.user_id
		WHERE gp.game_id = $1`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load players for game %s: %w", gameID, err)
	}
	return players, nil
}

func (r *PostgresRepo) ActivateGame(ctx context.Context, gameID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE games SET status = $1 WHERE id = $2 AND status = $3",
		models.GameInProgress, gameID, models.GamePreGame)
	if err != nil {
		return fmt.Errorf("failed to activate game %s: %w", gameID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("game %s is not in pre_game", gameID)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE game_players SET status = $1 WHERE game_id = $2 AND status = $3",
		models.PlayerAlive, gameID, models.PlayerRegistered)
	if err != nil {
		return fmt.Errorf("failed to activate players for game %s: %w", gameID, err)
	}
	return tx.Commit()
}

func (r *PostgresRepo) SetCurrentQuestion(ctx context.Context, gameID uuid.UUID, index int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE games SET current_question_index = $1 WHERE id = $2", index, gameID)
	if err != nil {
		return fmt.Errorf("failed to persist question index for game %s: %w", gameID, err)
	}
	return nil
}

func (r *PostgresRepo) SavePlayerResults(ctx context.Context, players []models.GamePlayer) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin player update: %w", err)
	}
	defer tx.Rollback()

	for _, p := range players {
		_, err := tx.ExecContext(ctx, `
			UPDATE game_players
			SET status = $1, eliminated_at_question = $2, correct_count = $3, total_count = $4
			WHERE game_id = $5 AND user_id = $6`,
			p.Status, p.EliminatedAtQuestion, p.CorrectCount, p.TotalCount, p.GameID, p.UserID)
		if err != nil {
			return fmt.Errorf("failed to update player %s: %w", p.UserID, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) InsertPlayerAnswers(ctx context.Context, rows []models.PlayerAnswer) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin answer batch: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_answers
				(game_id, user_id, question_id, selected, is_correct, response_time_ms, question_number, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (game_id, user_id, question_id) DO NOTHING`,
			row.GameID, row.UserID, row.QuestionID, row.Selected, row.IsCorrect,
			row.ResponseTimeMs, row.QuestionNumber, row.SubmittedAt)
		if err != nil {
			return fmt.Errorf("failed to insert answer for user %s: %w", row.UserID, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) FinishGame(ctx context.Context, gameID uuid.UUID, winnerCount int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE games SET status = $1, winner_count = $2, ended_at = NOW() WHERE id = $3",
		models.GameFinished, winnerCount, gameID)
	if err != nil {
		return fmt.Errorf("failed to finish game %s: %w", gameID, err)
	}
	return nil
}

func (r *PostgresRepo) MarkWinners(ctx context.Context, gameID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE game_players SET status = $1 WHERE game_id = $2 AND status = $3",
		models.PlayerWinner, gameID, models.PlayerAlive)
	if err != nil {
		return fmt.Errorf("failed to mark winners for game %s: %w", gameID, err)
	}
	return nil
}

func (r *PostgresRepo) CancelGame(ctx context.Context, gameID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE games SET status = $1, ended_at = NOW() WHERE id = $2",
		models.GameCancelled, gameID)
	if err != nil {
		return fmt.Errorf("failed to cancel game %s: %w", gameID, err)
	}
	return nil
}
