package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/api/handlers"
	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/game"
	"github.com/quizrush/backend/internal/middleware"
	"github.com/quizrush/backend/internal/webhook"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *sqlx.DB, cfg *config.Config, engine *game.Engine, dispatcher *webhook.Dispatcher) {
	router.Use(middleware.CORSMiddleware(cfg))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Transport webhook: GET is the subscription handshake, POST the
		// event stream
		v1.GET("/webhook", handlers.VerifyWebhook(cfg))
		v1.POST("/webhook", handlers.ReceiveWebhook(dispatcher))

		adm := v1.Group("/admin", middleware.AdminAuth(db, cfg))
		{
			adm.POST("/games", handlers.CreateGame(db))
			adm.GET("/games", handlers.ListGames(db))
			adm.GET("/games/:id", handlers.GetGame(db))
			adm.PATCH("/games/:id/status", handlers.UpdateGameStatus(db))
			adm.POST("/games/:id/start", handlers.StartGameNow(db))
			adm.POST("/games/:id/end", handlers.EmergencyEndGame(db, engine))
			adm.POST("/games/:id/players", handlers.RegisterPlayer(db))
			adm.POST("/games/:id/questions/import", handlers.ImportQuestionsCSV(db))
			adm.GET("/games/:id/results.csv", handlers.ExportResultsCSV(db))

			adm.GET("/users", handlers.ListUsers(db))
			adm.POST("/users/restore", handlers.RestoreUsers(db))
			adm.POST("/users/deactivate", handlers.DeactivateUsers(db))

			adm.GET("/audit", handlers.GetAuditLogs(db))
		}
	}
}
