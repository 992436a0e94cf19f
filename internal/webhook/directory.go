package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/models"
)

// PostgresDirectory implements Directory on the relational schema.
type PostgresDirectory struct {
	db *sqlx.DB
}

func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) EnsureUser(ctx context.Context, waID, displayName string) (*models.User, error) {
	var user models.User
	err := d.db.GetContext(ctx, &user, `
		INSERT INTO users (wa_id, display_name, is_active, last_activity_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (wa_id) DO UPDATE SET
			last_activity_at = NOW(),
			is_active = TRUE,
			display_name = CASE
				WHEN users.display_name = '' THEN EXCLUDED.display_name
				ELSE users.display_name
			END
		RETURNING *`, waID, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %s: %w", waID, err)
	}
	return &user, nil
}

func (d *PostgresDirectory) JoinUpcoming(ctx context.Context, user *models.User) (*models.Game, JoinResult, error) {
	var upcoming models.Game
	err := d.db.GetContext(ctx, &upcoming, `
		SELECT * FROM games
		WHERE status = $1 AND start_at > NOW()
		ORDER BY start_at LIMIT 1`, models.GameScheduled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NoUpcoming, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find upcoming game: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO game_players (game_id, user_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (game_id, user_id) DO NOTHING`,
		upcoming.ID, user.ID, models.PlayerRegistered)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to join game %s: %w", upcoming.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &upcoming, AlreadyJoined, nil
	}
	return &upcoming, Joined, nil
}
