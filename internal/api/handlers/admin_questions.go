package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/admin"
	"github.com/quizrush/backend/internal/game"
	"github.com/quizrush/backend/internal/models"
)

var questionCSVHeader = []string{"question_text", "option_a", "option_b", "option_c", "option_d", "correct_answer"}

type questionImport struct {
	Text          string
	Options       [4]string
	CorrectAnswer string
}

// parseQuestionsCSV reads the operator import format: a header row of
// question_text,option_a,option_b,option_c,option_d,correct_answer followed
// by one question per row. The correct answer must match one of the options.
func parseQuestionsCSV(r io.Reader) ([]questionImport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < len(questionCSVHeader) {
		return nil, fmt.Errorf("expected columns %s", strings.Join(questionCSVHeader, ","))
	}
	for i, want := range questionCSVHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return nil, fmt.Errorf("column %d must be %q, got %q", i+1, want, header[i])
		}
	}

	var out []questionImport
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		q := questionImport{
			Text:          strings.TrimSpace(row[0]),
			Options:       [4]string{strings.TrimSpace(row[1]), strings.TrimSpace(row[2]), strings.TrimSpace(row[3]), strings.TrimSpace(row[4])},
			CorrectAnswer: strings.TrimSpace(row[5]),
		}
		if q.Text == "" {
			return nil, fmt.Errorf("line %d: question_text is empty", line)
		}
		correctNorm := game.Normalize(q.CorrectAnswer)
		if correctNorm == "" {
			return nil, fmt.Errorf("line %d: correct_answer is empty", line)
		}
		match := false
		for _, opt := range q.Options {
			if opt == "" {
				return nil, fmt.Errorf("line %d: all four options are required", line)
			}
			if game.Normalize(opt) == correctNorm {
				match = true
			}
		}
		if !match {
			return nil, fmt.Errorf("line %d: correct_answer %q does not match any option", line, q.CorrectAnswer)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("CSV contains no questions")
	}
	return out, nil
}

// ImportQuestionsCSV replaces a scheduled game's questions from a multipart
// CSV upload
func ImportQuestionsCSV(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
			return
		}

		var status string
		if err := db.Get(&status, "SELECT status FROM games WHERE id = $1", gameID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}
		if status != models.GameScheduled {
			c.JSON(http.StatusConflict, gin.H{"error": "Questions can only be imported into scheduled games"})
			return
		}

		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart field 'file' is required"})
			return
		}
		defer file.Close()

		imported, err := parseQuestionsCSV(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tx, err := db.Beginx()
		if err != nil {
			log.Printf("[ADMIN] Failed to begin import for game %s: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
			return
		}
		defer tx.Rollback()

		if _, err := tx.Exec("DELETE FROM questions WHERE game_id = $1", gameID); err != nil {
			log.Printf("[ADMIN] Failed to clear questions for game %s: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
			return
		}
		for i, q := range imported {
			_, err := tx.Exec(`
				INSERT INTO questions (game_id, question_order, text, correct_answer, option_a, option_b, option_c, option_d)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				gameID, i+1, q.Text, q.CorrectAnswer, q.Options[0], q.Options[1], q.Options[2], q.Options[3])
			if err != nil {
				log.Printf("[ADMIN] Failed to insert question %d for game %s: %v", i+1, gameID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
				return
			}
		}
		if _, err := tx.Exec("UPDATE games SET total_questions = $1 WHERE id = $2", len(imported), gameID); err != nil {
			log.Printf("[ADMIN] Failed to update question count for game %s: %v", gameID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
			return
		}
		if err := tx.Commit(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
			return
		}

		admin.LogAdminAction(db, adminUser(c), c.ClientIP(), c.FullPath(), "import_questions",
			map[string]interface{}{"game_id": gameID, "count": len(imported)}, true)
		c.JSON(http.StatusOK, gin.H{"game_id": gameID, "imported": len(imported)})
	}
}
