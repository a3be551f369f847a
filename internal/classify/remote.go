package classify

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

const classificationPrompt = `You are a classifier for a personal second brain.
Return JSON only. No markdown. No explanation.

Schema:
{
  "category": "person|project|idea|admin",
  "confidence": 0.0,
  "title": "short human-friendly title",
  "fields": {"...": "..."}
}

Rules:
- Choose exactly one category.
- confidence is 0-1.
- For person, include fields: name, context, follow_ups, last_touched.
- For project, include fields: name, status, next_action, notes.
- For idea, include fields: name, one_liner, notes.
- For admin, include fields: name, status, due_date, notes.
- If ambiguous, still pick the best category but lower confidence.`

// RemoteClassifier calls an OpenAI-compatible chat completions endpoint.
type RemoteClassifier struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// RemoteConfig for the remote classifier.
type RemoteConfig struct {
	BaseURL string        // API URL (default: https://api.openai.com/v1)
	APIKey  string        // Bearer token
	Model   string        // Chat model (default: gpt-4o-mini)
	Timeout time.Duration // Request timeout
}

// NewRemoteClassifier creates a model-backed classifier.
func NewRemoteClassifier(cfg RemoteConfig) *RemoteClassifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &RemoteClassifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify asks the model for a category verdict. Rate limits, server errors
// and network failures come back wrapped transient so callers may retry;
// malformed model output does not, since retrying won't fix it.
func (c *RemoteClassifier) Classify(ctx context.Context, text string) (core.ClassificationResult, error) {
	var zero core.ClassificationResult

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: classificationPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return zero, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return zero, core.Transient(fmt.Errorf("classifier request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, core.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return zero, core.Transient(fmt.Errorf("classifier API error %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("classifier API error %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return zero, fmt.Errorf("%w: empty response", core.ErrClassifierFailed)
	}

	return parseVerdict(chatResp.Choices[0].Message.Content, text)
}

// parseVerdict decodes the model's JSON verdict, tolerating a markdown code
// fence despite the prompt forbidding one.
func parseVerdict(content, originalText string) (core.ClassificationResult, error) {
	var zero core.ClassificationResult

	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdict struct {
		Category   string            `json:"category"`
		Confidence float64           `json:"confidence"`
		Title      string            `json:"title"`
		Fields     map[string]string `json:"fields"`
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return zero, fmt.Errorf("%w: unparseable verdict: %v", core.ErrClassifierFailed, err)
	}

	category, ok := core.ParseCategory(verdict.Category)
	if !ok {
		return zero, fmt.Errorf("%w: unknown category %q", core.ErrClassifierFailed, verdict.Category)
	}

	result := core.ClassificationResult{
		Category:   category,
		Confidence: verdict.Confidence,
		Title:      verdict.Title,
		Fields:     verdict.Fields,
	}
	if result.Title == "" {
		result.Title = SimpleTitle(originalText)
	}
	if result.Fields == nil {
		result.Fields = TemplateFields(category, result.Title, originalText, time.Now().UTC())
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}
