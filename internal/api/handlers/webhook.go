package handlers

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/webhook"
	"github.com/quizrush/backend/internal/whatsapp"
)

// VerifyWebhook answers the Cloud API subscription handshake. The verify
// token is compared in constant time; a mismatch returns 403.
func VerifyWebhook(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		challenge := c.Query("hub.challenge")

		if mode == "subscribe" && cfg.WhatsAppVerifyToken != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(cfg.WhatsAppVerifyToken)) == 1 {
			c.String(http.StatusOK, challenge)
			return
		}
		log.Printf("[WEBHOOK] Verification rejected (mode=%q) from %s", mode, c.ClientIP())
		c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
	}
}

// ReceiveWebhook ACKs inbound transport events immediately and hands the
// envelope to the dispatcher off the request goroutine. The transport retries
// on slow ACKs, so nothing downstream may delay the response.
func ReceiveWebhook(dispatcher *webhook.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var env whatsapp.WebhookEnvelope
		if err := c.ShouldBindJSON(&env); err != nil {
			log.Printf("[WEBHOOK] Unparseable envelope from %s: %v", c.ClientIP(), err)
			c.Status(http.StatusOK) // still ACK; the transport will not improve on retry
			return
		}

		go dispatcher.Dispatch(&env)
		c.Status(http.StatusOK)
	}
}
