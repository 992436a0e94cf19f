package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quizrush/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// Client is a minimal WhatsApp Cloud API client with per-recipient rate
// limiting backed by Redis.
type Client struct {
	baseURL          string
	phoneNumberID    string
	accessToken      string
	rdb              *redis.Client
	httpClient       *http.Client
	rateLimitSeconds int
}

// SendError is a definitive transport failure with its HTTP status attached.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("whatsapp send failed: %d %s", e.StatusCode, e.Body)
}

// ErrRateLimited rejects a send inside the recipient's rate window. The
// outbound queue treats it as transient and retries after backoff.
var ErrRateLimited = errors.New("whatsapp: recipient rate limited")

// IsTransient reports whether a send failure is worth retrying. Network
// errors, rate-limit rejections, 5xx and 429 are transient; any other 4xx
// is permanent.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	// Connection / timeout errors carry no status
	return err != nil
}

// Button is one interactive reply button. IDs are stable btn_1..btn_3.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// NewClient constructs a Cloud API client. Returns nil if not configured.
func NewClient(cfg *config.Config, rdb *redis.Client) *Client {
	if cfg == nil || cfg.WhatsAppAccessToken == "" || cfg.WhatsAppPhoneNumberID == "" {
		return nil
	}

	return &Client{
		baseURL:          strings.TrimRight(cfg.WhatsAppBaseURL, "/"),
		phoneNumberID:    cfg.WhatsAppPhoneNumberID,
		accessToken:      cfg.WhatsAppAccessToken,
		rdb:              rdb,
		httpClient:       &http.Client{Timeout: 15 * time.Second},
		rateLimitSeconds: 1,
	}
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return c.send(ctx, to, payload)
}

// SendButtons sends an interactive message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if len(buttons) > 3 {
		return "", fmt.Errorf("whatsapp allows at most 3 buttons, got %d", len(buttons))
	}

	btns := make([]map[string]interface{}, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": b.Title},
		})
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": btns},
		},
	}
	return c.send(ctx, to, payload)
}

func (c *Client) send(ctx context.Context, to string, payload map[string]interface{}) (string, error) {
	if c == nil {
		return "", errors.New("whatsapp client not configured")
	}

	// Per-recipient rate limit; Redis errors never block the send
	if c.rdb != nil && c.rateLimitSeconds > 0 {
		key := fmt.Sprintf("wa_rate:%s", to)
		ok, err := c.rdb.SetNX(ctx, key, "1", time.Duration(c.rateLimitSeconds)*time.Second).Result()
		if err == nil && !ok {
			return "", ErrRateLimited
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &SendError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Messages) > 0 {
		return parsed.Messages[0].ID, nil
	}
	return "", nil
}
