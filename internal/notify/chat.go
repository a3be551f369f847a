package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// Chat posts messages to a chat platform's REST API with a bot token.
// Filed/review/digest notifications go to the configured room; Reply targets
// whatever thread the message came from.
type Chat struct {
	baseURL    string
	token      string
	roomID     string
	httpClient *http.Client
}

// ChatConfig for the chat notifier.
type ChatConfig struct {
	BaseURL string        // Messages API URL (e.g. https://webexapis.com/v1)
	Token   string        // Bot bearer token
	RoomID  string        // Default room for pipeline and digest notifications
	Timeout time.Duration // Request timeout
}

// NewChat creates a chat notifier.
func NewChat(cfg ChatConfig) *Chat {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Chat{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		roomID:     cfg.RoomID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Chat) NotifyFiled(ctx context.Context, record *core.Record, confidence float64) error {
	return c.post(ctx, c.roomID, fmt.Sprintf("Filed as %s: %s (%.2f).", record.Category, record.Title(), confidence))
}

func (c *Chat) NotifyNeedsReview(ctx context.Context, entry *core.InboxLogEntry) error {
	room := entry.ThreadID
	if room == "" {
		room = c.roomID
	}
	return c.post(ctx, room, fmt.Sprintf("Needs review: '%s' (%s, %.2f). Reply `fix: <category>` to file it.",
		entry.Title, entry.Category, entry.Confidence))
}

func (c *Chat) NotifyDigest(ctx context.Context, _ core.DigestKind, message string) error {
	return c.post(ctx, c.roomID, message)
}

func (c *Chat) Reply(ctx context.Context, threadID, message string) error {
	return c.post(ctx, threadID, message)
}

// post sends one message. Rate limits and server errors come back transient
// so the pipeline's retry wrapper can back off.
func (c *Chat) post(ctx context.Context, roomID, text string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id", core.ErrMissingRequired)
	}

	body, err := json.Marshal(map[string]string{
		"roomId": roomID,
		"text":   text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.Transient(fmt.Errorf("chat request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return core.Transient(fmt.Errorf("chat API error %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat API error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
