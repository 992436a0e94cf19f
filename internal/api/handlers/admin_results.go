package handlers

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ExportResultsCSV streams a game's evaluated answers as CSV for reporting
func ExportResultsCSV(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}

		type resultRow struct {
			WaID           string    `db:"wa_id"`
			DisplayName    string    `db:"display_name"`
			PlayerStatus   string    `db:"player_status"`
			QuestionNumber int       `db:"question_number"`
			Selected       string    `db:"selected"`
			IsCorrect      bool      `db:"is_correct"`
			ResponseTimeMs int       `db:"response_time_ms"`
			SubmittedAt    time.Time `db:"submitted_at"`
		}

		var rows []resultRow
		err = db.Select(&rows, `
			SELECT u.wa_id, u.display_name, gp.status AS player_status,
			       pa.question_number, pa.selected, pa.is_correct,
			       pa.response_time_ms, pa.submitted_at
			FROM player_answers pa
			JOIN users u ON u.id = pa.user_id
			JOIN game_players gp ON gp.game_id = pa.game_id AND gp.user_id = pa.user_id
			WHERE pa.game_id = $1
			ORDER BY pa.question_number, pa.submitted_at`, gameID)
		if err != nil {
			log.Printf("[ADMIN] Failed to export results for game %s: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export results"})
			return
		}

		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=game-%s-results.csv", gameID))

		w := csv.NewWriter(c.Writer)
		w.Write([]string{"wa_id", "display_name", "player_status", "question_number", "selected", "is_correct", "response_time_ms", "submitted_at"})
		for _, r := range rows {
			w.Write([]string{
				r.WaID,
				r.DisplayName,
				r.PlayerStatus,
				strconv.Itoa(r.QuestionNumber),
				r.Selected,
				strconv.FormatBool(r.IsCorrect),
				strconv.Itoa(r.ResponseTimeMs),
				r.SubmittedAt.UTC().Format(time.RFC3339),
			})
		}
		w.Flush()
	}
}
