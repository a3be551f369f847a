// Package api provides the HTTP surface: the chat webhook, a small REST API
// over records, and a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/secondbrain-hq/secondbrain/internal/config"
	"github.com/secondbrain-hq/secondbrain/internal/convo"
	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/digest"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
	"github.com/secondbrain-hq/secondbrain/internal/pipeline"
	"github.com/secondbrain-hq/secondbrain/internal/storage"
)

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	machine  *convo.Machine
	orch     *pipeline.Orchestrator
	records  core.RecordStore
	inbox    *storage.InboxStore
	queue    *storage.QueueStore
	digests  *digest.Generator
	notifier core.Notifier
	wsHub    *WebSocketHub

	cfg    config.ServerConfig
	logger *logging.Logger
}

// Options for the server.
type Options struct {
	Config   config.ServerConfig
	Machine  *convo.Machine
	Orch     *pipeline.Orchestrator
	Records  core.RecordStore
	Inbox    *storage.InboxStore
	Queue    *storage.QueueStore
	Digests  *digest.Generator
	Notifier core.Notifier
	Logger   *logging.Logger
}

// New creates the server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	s := &Server{
		machine:  opts.Machine,
		orch:     opts.Orch,
		records:  opts.Records,
		inbox:    opts.Inbox,
		queue:    opts.Queue,
		digests:  opts.Digests,
		notifier: opts.Notifier,
		wsHub:    NewWebSocketHub(opts.Logger),
		cfg:      opts.Config,
		logger:   opts.Logger,
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/records", s.handleListRecords)
		r.Post("/records", s.handleCreateRecord)
		r.Get("/records/{recordID}", s.handleGetRecord)
		r.Put("/records/{recordID}", s.handleUpdateRecord)

		r.Get("/digest/{kind}", s.handleDigest)
		r.Post("/run", s.handleRun)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/ws", s.wsHub.ServeHTTP)

	s.router = r
}

// Start runs the server until Stop or a listen failure.
func (s *Server) Start() error {
	go s.wsHub.Run()
	s.logger.WithField("addr", s.httpServer.Addr).Info("API server starting")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Broadcast pushes an event to every WebSocket client.
func (s *Server) Broadcast(msgType string, data interface{}) {
	s.wsHub.Broadcast(WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Records ---

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var categories []core.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		category, ok := core.ParseCategory(raw)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown category: "+raw)
			return
		}
		categories = []core.Category{category}
	}

	var since time.Time
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid days: "+raw)
			return
		}
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	records, err := s.records.List(r.Context(), categories, since)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

type createRecordRequest struct {
	Category string            `json:"category"`
	Fields   map[string]string `json:"fields"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category, ok := core.ParseCategory(req.Category)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "unknown category: "+req.Category)
		return
	}

	record, err := s.records.Create(r.Context(), category, req.Fields)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Broadcast("record_created", record)
	s.respondJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.records.Get(r.Context(), chi.URLParam(r, "recordID"))
	if errors.Is(err, core.ErrRecordNotFound) {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

type updateRecordRequest struct {
	Fields map[string]string `json:"fields"`
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req updateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Fields) == 0 {
		s.respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	record, err := s.records.Update(r.Context(), chi.URLParam(r, "recordID"), req.Fields)
	if errors.Is(err, core.ErrRecordNotFound) {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Broadcast("record_updated", record)
	s.respondJSON(w, http.StatusOK, record)
}

// --- Digest, run, stats ---

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	kind := core.DigestKind(chi.URLParam(r, "kind"))
	switch kind {
	case core.DigestNext, core.DigestToday, core.DigestWeek:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown digest kind")
		return
	}

	refs, err := s.digests.Build(r.Context(), kind, time.Now().UTC())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"kind":     kind,
		"items":    refs,
		"rendered": digest.Render(kind, refs),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.orch.Run(r.Context())
	if errors.Is(err, core.ErrRunInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Broadcast("run_complete", summary)
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.inbox.CountByStatus(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.queue.PendingCount(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"inbox":           counts,
		"pending_capture": pending,
	})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
