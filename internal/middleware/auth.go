package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/admin"
	"github.com/quizrush/backend/internal/config"
)

// AdminUserKey is the gin context key holding the authenticated operator name.
const AdminUserKey = "admin_user"

// AdminAuth protects the admin API. Two credential forms are accepted: the
// static deployment key in X-Admin-Key, or a per-operator X-Admin-User +
// X-Admin-Token pair checked against the bcrypt hash in admin_accounts.
func AdminAuth(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-Admin-Key"); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.AdminAPIKey)) == 1 {
				c.Set(AdminUserKey, "api-key")
				c.Next()
				return
			}
			log.Printf("[AUTH] Rejected admin key from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin credentials"})
			return
		}

		username := c.GetHeader("X-Admin-User")
		token := c.GetHeader("X-Admin-Token")
		if username == "" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Admin credentials required"})
			return
		}

		account, err := admin.ValidateAdminCredentials(db, username, token)
		if err != nil {
			log.Printf("[AUTH] Rejected operator %q from %s: %v", username, c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin credentials"})
			return
		}

		c.Set(AdminUserKey, account.Username)
		c.Next()
	}
}
