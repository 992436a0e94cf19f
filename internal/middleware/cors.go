package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/quizrush/backend/internal/config"
)

// CORSMiddleware returns a CORS middleware configured for the environment.
// The webhook endpoint is server-to-server, so CORS only matters for the
// operator dashboard hitting the admin API from a browser.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Length", "Content-Type", "Accept",
			"X-Admin-Key", "X-Admin-User", "X-Admin-Token",
			"Cache-Control", "X-Requested-With",
		},
		MaxAge: 12 * time.Hour, // Cache preflight responses
	}

	if cfg.Environment == "production" {
		corsConfig.AllowOrigins = []string{"https://quizrush.app", "https://admin.quizrush.app"}
	} else {
		corsConfig.AllowOrigins = []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}
	}
	corsConfig.AllowCredentials = true

	return cors.New(corsConfig)
}
