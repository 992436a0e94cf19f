package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/models"
	"github.com/quizrush/backend/internal/outbound"
	"github.com/quizrush/backend/internal/webhook"
	"github.com/quizrush/backend/internal/whatsapp"
)

type stubDirectory struct{}

func (stubDirectory) EnsureUser(ctx context.Context, waID, displayName string) (*models.User, error) {
	return &models.User{WaID: waID}, nil
}

func (stubDirectory) JoinUpcoming(ctx context.Context, user *models.User) (*models.Game, webhook.JoinResult, error) {
	return nil, webhook.NoUpcoming, nil
}

type recordingSink struct {
	mu      sync.Mutex
	answers []string
}

func (s *recordingSink) HandleAnswer(ctx context.Context, waID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, waID+":"+text)
	return true
}

type nullOutbox struct{}

func (nullOutbox) EnqueueText(to, body string, prio outbound.Priority) {}

func (nullOutbox) EnqueueButtons(to, body string, buttons []whatsapp.Button, prio outbound.Priority) {
}

func TestVerifyWebhookHandshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{WhatsAppVerifyToken: "secret"}

	router := gin.New()
	router.GET("/webhook", VerifyWebhook(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())
}

func TestVerifyWebhookRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{WhatsAppVerifyToken: "secret"}

	router := gin.New()
	router.GET("/webhook", VerifyWebhook(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceiveWebhookAcksAndDispatches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &recordingSink{}
	dispatcher := webhook.NewDispatcher(stubDirectory{}, sink, nullOutbox{})

	router := gin.New()
	router.POST("/webhook", ReceiveWebhook(dispatcher))

	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"256700000001","id":"wamid.1","type":"text","text":{"body":"Paris"}}],"contacts":[{"wa_id":"256700000001","profile":{"name":"Asha"}}]}}]}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "transport must be ACKed")

	// Dispatch runs off the request goroutine
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.answers)
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.answers, 1)
	assert.Equal(t, "256700000001:Paris", sink.answers[0])
}

func TestReceiveWebhookAcksGarbage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dispatcher := webhook.NewDispatcher(stubDirectory{}, &recordingSink{}, nullOutbox{})

	router := gin.New()
	router.POST("/webhook", ReceiveWebhook(dispatcher))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "garbage must still be ACKed to stop transport retries")
}
