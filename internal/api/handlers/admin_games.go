package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/admin"
	"github.com/quizrush/backend/internal/game"
	"github.com/quizrush/backend/internal/models"
)

func adminUser(c *gin.Context) string {
	return c.GetString("admin_user")
}

// CreateGame schedules a new game
func CreateGame(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			StartAt   time.Time `json:"start_at" binding:"required"`
			PrizePool float64   `json:"prize_pool"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_at is required"})
			return
		}
		if req.PrizePool < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "prize_pool cannot be negative"})
			return
		}

		var created models.Game
		err := db.Get(&created, `
			INSERT INTO games (status, start_at, prize_pool)
			VALUES ($1, $2, $3)
			RETURNING *`, models.GameScheduled, req.StartAt, req.PrizePool)
		if err != nil {
			log.Printf("[ADMIN] Failed to create game: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create game"})
			return
		}

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), "create_game",
			map[string]interface{}{"game_id": created.ID, "start_at": req.StartAt, "prize_pool": req.PrizePool}, true)
		c.JSON(http.StatusCreated, created)
	}
}

// ListGames returns a paginated list of games with filters
func ListGames(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.DefaultQuery("status", "all")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit > 200 {
			limit = 200
		}

		type gameRow struct {
			models.Game
			PlayerCount int `db:"player_count" json:"player_count"`
			TotalCount  int `db:"total_count" json:"-"`
		}

		var rows []gameRow
		err := db.Select(&rows, `
			SELECT g.*,
				(SELECT COUNT(*) FROM game_players gp WHERE gp.game_id = g.id) AS player_count,
				COUNT(*) OVER() AS total_count
			FROM games g
			WHERE ($1 = 'all' OR g.status = $1)
			ORDER BY g.start_at DESC
			LIMIT $2 OFFSET $3`, status, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch games: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch games"})
			return
		}

		total := 0
		if len(rows) > 0 {
			total = rows[0].TotalCount
		}
		c.JSON(http.StatusOK, gin.H{"games": rows, "total": total, "limit": limit, "offset": offset})
	}
}

// GetGame returns one game with its players and question count
func GetGame(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}

		var g models.Game
		if err := db.Get(&g, "SELECT * FROM games WHERE id = $1", gameID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}

		type playerRow struct {
			models.GamePlayer
			DisplayName string `db:"display_name" json:"display_name"`
		}
		var players []playerRow
		err = db.Select(&players, `
			SELECT gp.game_id, gp.user_id, u.wa_id, u.display_name, gp.status,
			       gp.eliminated_at_question, gp.correct_count, gp.total_count, gp.joined_at
			FROM game_players gp
			JOIN users u ON u.id = gp.user_id
			WHERE gp.game_id = $1
			ORDER BY gp.joined_at`, gameID)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch players for game %s: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch players"})
			return
		}

		var questionCount int
		db.Get(&questionCount, "SELECT COUNT(*) FROM questions WHERE game_id = $1", gameID)

		c.JSON(http.StatusOK, gin.H{"game": g, "players": players, "question_count": questionCount})
	}
}

// UpdateGameStatus sets a game's status directly. Only transitions between
// inactive statuses are allowed here; running games go through emergency end.
func UpdateGameStatus(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
			return
		}
		switch req.Status {
		case models.GameScheduled, models.GameCancelled, models.GameExpired:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be scheduled, cancelled or expired"})
			return
		}

		res, err := db.Exec(`
			UPDATE games SET status = $1
			WHERE id = $2 AND status NOT IN ($3, $4)`,
			req.Status, gameID, models.GamePreGame, models.GameInProgress)
		if err != nil {
			log.Printf("[ADMIN] Failed to update game %s status: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Game is running; use emergency end"})
			return
		}

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), "update_game_status",
			map[string]interface{}{"game_id": gameID, "status": req.Status}, true)
		c.JSON(http.StatusOK, gin.H{"game_id": gameID, "status": req.Status})
	}
}

// StartGameNow pulls a scheduled game's start instant to now. The scheduler
// picks it up on its next sweep; starting stays single-pathed through the
// conditional status update.
func StartGameNow(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}

		var questionCount int
		if err := db.Get(&questionCount, "SELECT COUNT(*) FROM questions WHERE game_id = $1", gameID); err == nil && questionCount == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Game has no questions"})
			return
		}

		res, err := db.Exec(
			"UPDATE games SET start_at = NOW() WHERE id = $1 AND status = $2",
			gameID, models.GameScheduled)
		if err != nil {
			log.Printf("[ADMIN] Failed to start game %s: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start game"})
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Game is not in scheduled status"})
			return
		}

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), "start_game",
			map[string]interface{}{"game_id": gameID}, true)
		c.JSON(http.StatusOK, gin.H{"game_id": gameID, "message": "Game will start on the next scheduler sweep"})
	}
}

// EmergencyEndGame cancels a running game immediately
func EmergencyEndGame(db *sqlx.DB, engine *game.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}

		if !engine.EmergencyEnd(gameID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game is not running on this instance"})
			return
		}

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), "emergency_end",
			map[string]interface{}{"game_id": gameID}, true)
		log.Printf("[ADMIN] Emergency end requested for game %s by %s", gameID, adminUser(c))
		c.JSON(http.StatusAccepted, gin.H{"game_id": gameID, "message": "Cancellation queued"})
	}
}

// RegisterPlayer adds a user to a scheduled game by handle
func RegisterPlayer(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}
		var req struct {
			WaID string `json:"wa_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wa_id is required"})
			return
		}

		var status string
		if err := db.Get(&status, "SELECT status FROM games WHERE id = $1", gameID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}
		if status != models.GameScheduled {
			c.JSON(http.StatusConflict, gin.H{"error": "Players can only be added to scheduled games"})
			return
		}

		var userID uuid.UUID
		err = db.Get(&userID, `
			INSERT INTO users (wa_id) VALUES ($1)
			ON CONFLICT (wa_id) DO UPDATE SET last_activity_at = NOW()
			RETURNING id`, req.WaID)
		if err != nil {
			log.Printf("[ADMIN] Failed to upsert user %s: %v", req.WaID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register player"})
			return
		}

		_, err = db.Exec(`
			INSERT INTO game_players (game_id, user_id, status)
			VALUES ($1, $2, $3)
			ON CONFLICT (game_id, user_id) DO NOTHING`,
			gameID, userID, models.PlayerRegistered)
		if err != nil {
			log.Printf("[ADMIN] Failed to add player %s to game %s: %v", req.WaID, gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register player"})
			return
		}

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), "register_player",
			map[string]interface{}{"game_id": gameID, "wa_id": req.WaID}, true)
		c.JSON(http.StatusOK, gin.H{"game_id": gameID, "user_id": userID})
	}
}
