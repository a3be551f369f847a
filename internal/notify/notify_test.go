package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

func TestChatPostsToRoom(t *testing.T) {
	var got struct {
		RoomID string `json:"roomId"`
		Text   string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{BaseURL: srv.URL, Token: "tok", RoomID: "room-9"})
	record := &core.Record{Category: core.CategoryIdea, Fields: map[string]string{"name": "spark"}}
	if err := c.NotifyFiled(context.Background(), record, 0.9); err != nil {
		t.Fatalf("NotifyFiled: %v", err)
	}
	if got.RoomID != "room-9" {
		t.Errorf("roomId = %q", got.RoomID)
	}
	if got.Text != "Filed as idea: spark (0.90)." {
		t.Errorf("text = %q", got.Text)
	}
}

func TestChatReplyTargetsThread(t *testing.T) {
	var roomID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		roomID = body["roomId"]
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{BaseURL: srv.URL, Token: "tok", RoomID: "default-room"})
	if err := c.Reply(context.Background(), "thread-1", "hi"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if roomID != "thread-1" {
		t.Errorf("roomId = %q, want thread-1", roomID)
	}
}

func TestChatTransientOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{BaseURL: srv.URL, Token: "tok", RoomID: "room"})
	err := c.NotifyDigest(context.Background(), core.DigestToday, "digest")
	if !core.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestChatPermanentOnAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{BaseURL: srv.URL, Token: "bad", RoomID: "room"})
	err := c.Reply(context.Background(), "thread", "hi")
	if err == nil || core.IsTransient(err) {
		t.Errorf("err = %v, want permanent", err)
	}
}
