package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/secondbrain-hq/secondbrain/internal/convo"
)

// signatureHeader carries the hex HMAC-SHA1 of the raw body, keyed with the
// shared webhook secret.
const signatureHeader = "X-Spark-Signature"

// webhookEvent is the inbound chat-platform event. Only message-created
// events with inline text are acted on.
type webhookEvent struct {
	Resource string `json:"resource"`
	Event    string `json:"event"`
	Data     struct {
		ID          string `json:"id"`
		RoomID      string `json:"roomId"`
		PersonID    string `json:"personId"`
		PersonEmail string `json:"personEmail"`
		PersonType  string `json:"personType"`
		Text        string `json:"text"`
	} `json:"data"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !verifySignature(s.cfg.WebhookSecret, body, r.Header.Get(signatureHeader)) {
			s.logger.Warn("invalid webhook signature")
			s.respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if event.Resource != "messages" || event.Event != "created" {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// The bot sees its own posts echoed back; never re-capture them.
	if s.isSelfMessage(event) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored bot"})
		return
	}

	text := strings.TrimSpace(event.Data.Text)
	if event.Data.RoomID == "" || text == "" {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	reply, err := s.machine.Handle(r.Context(), convo.Message{
		ID:       event.Data.ID,
		ThreadID: event.Data.RoomID,
		Sender:   event.Data.PersonID,
		Text:     text,
	})
	if err != nil {
		s.logger.WithField("room", event.Data.RoomID).Error("message handling failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "message handling failed")
		return
	}

	if reply != "" {
		if err := s.notifier.Reply(r.Context(), event.Data.RoomID, reply); err != nil {
			s.logger.WithField("room", event.Data.RoomID).Warn("reply delivery failed: %v", err)
		}
	}
	s.Broadcast("message_handled", map[string]string{
		"room": event.Data.RoomID,
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "handled"})
}

func (s *Server) isSelfMessage(event webhookEvent) bool {
	if event.Data.PersonType == "bot" {
		return true
	}
	if s.cfg.BotID != "" && event.Data.PersonID == s.cfg.BotID {
		return true
	}
	if s.cfg.BotEmail != "" && event.Data.PersonEmail == s.cfg.BotEmail {
		return true
	}
	return strings.HasSuffix(event.Data.PersonEmail, "@webex.bot")
}

// verifySignature compares the expected HMAC in constant time.
func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
