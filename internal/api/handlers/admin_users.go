package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quizrush/backend/internal/admin"
	"github.com/quizrush/backend/internal/models"
)

// ListUsers returns registered users with pagination
func ListUsers(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit > 500 {
			limit = 500
		}
		activeOnly := c.DefaultQuery("active", "all") == "true"

		type userRow struct {
			models.User
			GamesPlayed int `db:"games_played" json:"games_played"`
			TotalCount  int `db:"total_count" json:"-"`
		}

		var rows []userRow
		err := db.Select(&rows, `
			SELECT u.*,
				(SELECT COUNT(*) FROM game_players gp WHERE gp.user_id = u.id) AS games_played,
				COUNT(*) OVER() AS total_count
			FROM users u
			WHERE ($1 = FALSE OR u.is_active = TRUE)
			ORDER BY u.created_at DESC
			LIMIT $2 OFFSET $3`, activeOnly, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch users: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
			return
		}

		total := 0
		if len(rows) > 0 {
			total = rows[0].TotalCount
		}
		c.JSON(http.StatusOK, gin.H{"users": rows, "total": total, "limit": limit, "offset": offset})
	}
}

// DeactivateUsers bulk-deactivates users by id. Rows are kept for reporting;
// deactivated users stop receiving game invitations.
func DeactivateUsers(db *sqlx.DB) gin.HandlerFunc {
	return setUsersActive(db, false, "deactivate_users")
}

// RestoreUsers bulk-reactivates users by id
func RestoreUsers(db *sqlx.DB) gin.HandlerFunc {
	return setUsersActive(db, true, "restore_users")
}

func setUsersActive(db *sqlx.DB, active bool, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserIDs []uuid.UUID `json:"user_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids is required"})
			return
		}

		res, err := db.Exec(
			"UPDATE users SET is_active = $1 WHERE id = ANY($2)",
			active, pq.Array(req.UserIDs))
		if err != nil {
			log.Printf("[ADMIN] Failed to %s: %v", action, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update users"})
			return
		}
		n, _ := res.RowsAffected()

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), action,
			map[string]interface{}{"requested": len(req.UserIDs), "updated": n}, true)
		c.JSON(http.StatusOK, gin.H{"updated": n})
	}
}
