package classify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// =============================================================================
// RuleClassifier
// =============================================================================

func TestRuleClassifierCategories(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCategory core.Category
	}{
		{"person keyword", "coffee with Dana next week", core.CategoryPerson},
		{"project keyword", "ship the new landing page by Friday", core.CategoryProject},
		{"idea keyword", "what if onboarding were a game", core.CategoryIdea},
		{"admin keyword", "pay the electricity invoice", core.CategoryAdmin},
		{"no keywords default admin", "quarterly numbers look fine", core.CategoryAdmin},
	}

	c := NewRuleClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.Classify(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if result.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", result.Category, tt.wantCategory)
			}
		})
	}
}

func TestRuleClassifierConfidence(t *testing.T) {
	c := NewRuleClassifier()

	// No keyword hit: admin fallback at 0.45.
	result, _ := c.Classify(context.Background(), "nothing recognizable here")
	if result.Confidence != 0.45 {
		t.Errorf("fallback confidence = %v, want 0.45", result.Confidence)
	}

	// One hit: 0.5 + 0.15.
	result, _ = c.Classify(context.Background(), "pay the bill")
	if result.Confidence != 0.65 {
		t.Errorf("one-hit confidence = %v, want 0.65", result.Confidence)
	}

	// Many hits cap at 0.9.
	result, _ = c.Classify(context.Background(), "pay invoice renew schedule submit todo task")
	if result.Confidence != 0.9 {
		t.Errorf("capped confidence = %v, want 0.9", result.Confidence)
	}
}

func TestRuleClassifierFieldsMatchSchema(t *testing.T) {
	c := NewRuleClassifier()
	result, err := c.Classify(context.Background(), "ship the redesign milestone")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for _, key := range result.Category.FieldSchema() {
		if _, ok := result.Fields[key]; !ok {
			t.Errorf("missing schema field %q", key)
		}
	}
	if result.Fields["status"] != "active" {
		t.Errorf("project status = %q, want active", result.Fields["status"])
	}
}

func TestSimpleTitle(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"met Dana at the partner summit yesterday evening", "met Dana at the partner summit"},
		{"short note", "short note"},
		{"", "Untitled"},
		{"!!! ???", "Untitled"},
	}
	for _, tt := range tests {
		if got := SimpleTitle(tt.text); got != tt.want {
			t.Errorf("SimpleTitle(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

// =============================================================================
// RemoteClassifier
// =============================================================================

func remoteServer(t *testing.T, handler http.HandlerFunc) *RemoteClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemoteClassifier(RemoteConfig{BaseURL: srv.URL, APIKey: "test-key"})
}

func chatReply(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonString(content) + `}}]}`
}

func jsonString(s string) string {
	b := make([]byte, 0, len(s)+2)
	b = append(b, '"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		default:
			b = append(b, s[i])
		}
	}
	return string(append(b, '"'))
}

func TestRemoteClassifierParsesVerdict(t *testing.T) {
	c := remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		w.Write([]byte(chatReply(`{"category":"person","confidence":0.82,"title":"Dana intro","fields":{"name":"Dana","context":"intro call","follow_ups":"","last_touched":"2026-08-24"}}`)))
	})

	result, err := c.Classify(context.Background(), "intro call with Dana")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Category != core.CategoryPerson {
		t.Errorf("category = %q", result.Category)
	}
	if result.Confidence != 0.82 {
		t.Errorf("confidence = %v", result.Confidence)
	}
	if result.Fields["name"] != "Dana" {
		t.Errorf("fields = %v", result.Fields)
	}
}

func TestRemoteClassifierToleratesCodeFence(t *testing.T) {
	c := remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("```json\n{\"category\":\"idea\",\"confidence\":0.7,\"title\":\"game onboarding\"}\n```")))
	})

	result, err := c.Classify(context.Background(), "what if onboarding were a game")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Category != core.CategoryIdea {
		t.Errorf("category = %q", result.Category)
	}
	// Fields omitted by the model get the schema template.
	if _, ok := result.Fields["one_liner"]; !ok {
		t.Error("expected templated idea fields")
	}
}

func TestRemoteClassifierTransientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusInternalServerError},
		{"bad gateway", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Classify(context.Background(), "anything")
			if !core.IsTransient(err) {
				t.Errorf("err = %v, want transient", err)
			}
		})
	}
}

func TestRemoteClassifierPermanentErrors(t *testing.T) {
	// 401 is misconfiguration, not worth retrying.
	c := remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Classify(context.Background(), "anything")
	if err == nil || core.IsTransient(err) {
		t.Errorf("err = %v, want permanent error", err)
	}

	// Garbage verdict is permanent too.
	c = remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("sure! here's my analysis...")))
	})
	_, err = c.Classify(context.Background(), "anything")
	if !errors.Is(err, core.ErrClassifierFailed) {
		t.Errorf("err = %v, want ErrClassifierFailed", err)
	}
	if core.IsTransient(err) {
		t.Error("parse failure should not be transient")
	}

	// Unknown category from the model.
	c = remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"category":"recipe","confidence":0.9,"title":"x"}`)))
	})
	_, err = c.Classify(context.Background(), "anything")
	if !errors.Is(err, core.ErrClassifierFailed) {
		t.Errorf("err = %v, want ErrClassifierFailed", err)
	}
}
