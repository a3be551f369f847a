package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/config"
	"github.com/secondbrain-hq/secondbrain/internal/convo"
	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/digest"
	"github.com/secondbrain-hq/secondbrain/internal/pipeline"
	"github.com/secondbrain-hq/secondbrain/internal/retry"
	"github.com/secondbrain-hq/secondbrain/internal/storage"
)

type lowConfidenceClassifier struct{}

func (lowConfidenceClassifier) Classify(_ context.Context, text string) (core.ClassificationResult, error) {
	return core.ClassificationResult{Category: core.CategoryAdmin, Confidence: 0.45, Title: text}, nil
}

// replyRecorder captures the replies the webhook sends back to chat threads.
type replyRecorder struct {
	replies []string
	threads []string
}

func (r *replyRecorder) NotifyFiled(context.Context, *core.Record, float64) error     { return nil }
func (r *replyRecorder) NotifyNeedsReview(context.Context, *core.InboxLogEntry) error { return nil }
func (r *replyRecorder) NotifyDigest(context.Context, core.DigestKind, string) error  { return nil }
func (r *replyRecorder) Reply(_ context.Context, threadID, message string) error {
	r.threads = append(r.threads, threadID)
	r.replies = append(r.replies, message)
	return nil
}

type serverFixture struct {
	server   *Server
	records  *storage.RecordStore
	notifier *replyRecorder
}

func newServerFixture(t *testing.T, secret string) *serverFixture {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: t.TempDir() + "/test.db"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	records := storage.NewRecordStore(db)
	inbox := storage.NewInboxStore(db)
	queue := storage.NewQueueStore(db)
	notifier := &replyRecorder{}

	orch := pipeline.New(pipeline.Options{
		Capture:    queue,
		Classifier: lowConfidenceClassifier{},
		Records:    records,
		Inbox:      inbox,
		Notifier:   notifier,
		Guard:      storage.NewRunStore(db),
		Threshold:  0.6,
		Retry:      retry.Config{MaxAttempts: 1, BackoffBase: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	digests := digest.NewGenerator(records, 0)
	machine := convo.NewMachine(convo.Options{
		States:  storage.NewStateStore(db),
		Records: records,
		Inbox:   inbox,
		Digests: digests,
		Orch:    orch,
		BotName: "sb",
	})

	server := New(Options{
		Config: config.ServerConfig{
			Port:          0,
			WebhookSecret: secret,
			BotName:       "sb",
			BotEmail:      "sb@bots.example.com",
		},
		Machine:  machine,
		Orch:     orch,
		Records:  records,
		Inbox:    inbox,
		Queue:    queue,
		Digests:  digests,
		Notifier: notifier,
	})
	return &serverFixture{server: server, records: records, notifier: notifier}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func messageEvent(roomID, text string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"resource": "messages",
		"event":    "created",
		"data": map[string]string{
			"id":          "msg-1",
			"roomId":      roomID,
			"personId":    "user-1",
			"personEmail": "user@example.com",
			"text":        text,
		},
	})
	return body
}

// =============================================================================
// Webhook
// =============================================================================

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newServerFixture(t, "s3cret")
	body := messageEvent("room-1", "hello")

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	f := newServerFixture(t, "s3cret")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(messageEvent("room-1", "hello")))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookHandlesSignedMessage(t *testing.T) {
	f := newServerFixture(t, "s3cret")
	body := messageEvent("room-1", "help")

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign("s3cret", body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.notifier.replies) != 1 || !strings.HasPrefix(f.notifier.replies[0], "[SB HELP]") {
		t.Errorf("replies = %v", f.notifier.replies)
	}
	if f.notifier.threads[0] != "room-1" {
		t.Errorf("reply thread = %q", f.notifier.threads[0])
	}
}

func TestWebhookIgnoresBotMessages(t *testing.T) {
	f := newServerFixture(t, "")
	body, _ := json.Marshal(map[string]interface{}{
		"resource": "messages",
		"event":    "created",
		"data": map[string]string{
			"roomId":      "room-1",
			"personId":    "bot-1",
			"personEmail": "sb@bots.example.com",
			"text":        "Filed as idea: something (0.90).",
		},
	})

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.notifier.replies) != 0 {
		t.Errorf("bot message produced replies: %v", f.notifier.replies)
	}
}

func TestWebhookIgnoresNonMessageEvents(t *testing.T) {
	f := newServerFixture(t, "")
	body, _ := json.Marshal(map[string]string{"resource": "memberships", "event": "created"})

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.notifier.replies) != 0 {
		t.Errorf("unexpected replies: %v", f.notifier.replies)
	}
}

func TestWebhookCaptureFlow(t *testing.T) {
	f := newServerFixture(t, "")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(messageEvent("room-1", "idea: solar powered kettle")))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.notifier.replies) != 1 || !strings.HasPrefix(f.notifier.replies[0], "Filed as idea:") {
		t.Errorf("replies = %v", f.notifier.replies)
	}

	records, err := f.records.List(context.Background(), []core.Category{core.CategoryIdea}, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestWebhookRedeliveryFilesOnce(t *testing.T) {
	f := newServerFixture(t, "")
	handler := f.server.Handler()
	body := messageEvent("room-1", "idea: solar powered kettle")

	// Webhook delivery is at-least-once; the platform resends the same
	// message id on timeouts.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/webhook", bytes.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d", i+1, rec.Code)
		}
	}

	records, err := f.records.List(context.Background(), []core.Category{core.CategoryIdea}, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
	// One confirmation; the duplicate is answered with silence.
	if len(f.notifier.replies) != 1 {
		t.Errorf("replies = %v, want a single confirmation", f.notifier.replies)
	}
}

// =============================================================================
// REST API
// =============================================================================

func TestRecordEndpoints(t *testing.T) {
	f := newServerFixture(t, "")
	handler := f.server.Handler()

	// Create.
	body, _ := json.Marshal(map[string]interface{}{
		"category": "project",
		"fields":   map[string]string{"name": "redesign", "status": "active"},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/records", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created core.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Get.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/records/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	// Update.
	body, _ = json.Marshal(map[string]interface{}{"fields": map[string]string{"status": "done"}})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/v1/records/"+created.ID, bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Errorf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated core.Record
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Fields["status"] != "done" {
		t.Errorf("status field = %q", updated.Fields["status"])
	}

	// List with filter.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/records?category=project", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listResp)
	if listResp.Count != 1 {
		t.Errorf("count = %d", listResp.Count)
	}

	// Missing record.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/records/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}

	// Bad category.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/records?category=recipe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad category status = %d", rec.Code)
	}
}

func TestDigestEndpoint(t *testing.T) {
	f := newServerFixture(t, "")
	if _, err := f.records.Create(context.Background(), core.CategoryIdea, map[string]string{"name": "spark"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/digest/next", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Rendered string           `json:"rendered"`
		Items    []core.RecordRef `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Items) != 1 || !strings.Contains(resp.Rendered, "spark") {
		t.Errorf("resp = %+v", resp)
	}

	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/digest/fortnight", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d", rec.Code)
	}
}

func TestRunAndStatsEndpoints(t *testing.T) {
	f := newServerFixture(t, "")
	handler := f.server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats struct {
		PendingCapture int `json:"pending_capture"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, "")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
