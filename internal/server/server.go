// Package server exposes the conversation engine over HTTP: a blocking
// chat endpoint, a WebSocket stream, webhook ingestion for proactive
// evaluation, and consent management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/advisorlabs/clerk/internal/agent"
	"github.com/advisorlabs/clerk/internal/consent"
	"github.com/advisorlabs/clerk/internal/observability"
	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/pkg/models"
)

// ConversationEngine is the part of the agent the server needs.
type ConversationEngine interface {
	ChatStream(ctx context.Context, user models.UserRef, message string) (<-chan *agent.StreamEvent, error)
	ProactiveCheck(ctx context.Context, user models.UserRef, eventType string, eventData map[string]any) (bool, error)
}

// Config holds the server's listen settings.
type Config struct {
	Host        string
	HTTPPort    int
	ReadTimeout time.Duration
}

// Deps wires the server's collaborators.
type Deps struct {
	Engine  ConversationEngine
	Gate    *consent.Gate
	Store   storage.Store
	Auth    *JWTService
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Config  Config
}

// Server is the HTTP front end.
type Server struct {
	engine  ConversationEngine
	gate    *consent.Gate
	store   storage.Store
	auth    *JWTService
	logger  *slog.Logger
	metrics *observability.Metrics
	cfg     Config

	httpServer *http.Server
}

// New creates a Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  deps.Engine,
		gate:    deps.Gate,
		store:   deps.Store,
		auth:    deps.Auth,
		logger:  logger.With("component", "server"),
		metrics: deps.Metrics,
		cfg:     deps.Config,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.instrument("/v1/chat", s.requireAuth(s.handleChat)))
	mux.HandleFunc("GET /v1/chat/stream", s.requireAuth(s.handleChatStream))
	mux.HandleFunc("POST /v1/webhooks/{source}", s.instrument("/v1/webhooks", s.requireAuth(s.handleWebhook)))

	mux.HandleFunc("GET /v1/consents", s.instrument("/v1/consents", s.requireAuth(s.handleListConsents)))
	mux.HandleFunc("POST /v1/consents", s.instrument("/v1/consents", s.requireAuth(s.handleGrantConsent)))
	mux.HandleFunc("DELETE /v1/consents/{action}", s.instrument("/v1/consents", s.requireAuth(s.handleRevokeConsent)))

	mux.HandleFunc("GET /v1/tasks", s.instrument("/v1/tasks", s.requireAuth(s.handleListTasks)))
	mux.HandleFunc("GET /v1/audit", s.instrument("/v1/audit", s.requireAuth(s.handleListAudit)))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Start begins serving. It returns once the listener is up; serve errors
// are logged.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(sw.status), time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response    string          `json:"response"`
	ToolResults []toolResultDTO `json:"tool_results,omitempty"`
}

type toolResultDTO struct {
	Tool   string `json:"tool"`
	ID     string `json:"id,omitempty"`
	Result any    `json:"result"`
}

// handleChat runs a full conversation turn and returns the final text once
// the stream completes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	user := requestUser(r)
	events, err := s.engine.ChatStream(r.Context(), user, req.Message)
	if err != nil {
		s.logger.Error("chat failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat failed")
		return
	}

	var resp chatResponse
	for ev := range events {
		switch ev.Type {
		case agent.EventToolResult:
			resp.ToolResults = append(resp.ToolResults, toolResultDTO{
				Tool:   ev.ToolName,
				ID:     ev.ToolID,
				Result: ev.Result,
			})
		case agent.EventDone:
			resp.Response = ev.Text
		case agent.EventError:
			writeError(w, http.StatusBadGateway, ev.Error)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type webhookResponse struct {
	Acted bool `json:"acted"`
}

// handleWebhook feeds an external event through the proactive evaluator.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "event source is required")
		return
	}

	var eventData map[string]any
	if err := json.NewDecoder(r.Body).Decode(&eventData); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	user := requestUser(r)
	acted, err := s.engine.ProactiveCheck(r.Context(), user, source, eventData)
	if err != nil {
		s.logger.Error("proactive evaluation failed", "user_id", user.ID, "source", source, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Acted: acted})
}

type grantConsentRequest struct {
	ActionType string                    `json:"action_type"`
	Scope      string                    `json:"scope,omitempty"`
	Conditions *models.ConsentConditions `json:"conditions,omitempty"`
	ExpiresAt  *time.Time                `json:"expires_at,omitempty"`
}

func (s *Server) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	var req grantConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActionType == "" {
		writeError(w, http.StatusBadRequest, "action_type is required")
		return
	}

	user := requestUser(r)
	if err := s.gate.Grant(r.Context(), user.ID, req.ActionType, req.Scope, req.Conditions, req.ExpiresAt); err != nil {
		s.logger.Error("consent grant failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "grant failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"granted": true, "action_type": req.ActionType})
}

func (s *Server) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	user := requestUser(r)

	revoked, err := s.gate.Revoke(r.Context(), user.ID, action)
	if err != nil {
		s.logger.Error("consent revoke failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	if !revoked {
		writeError(w, http.StatusNotFound, "no active consent for that action")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true, "action_type": action})
}

func (s *Server) handleListConsents(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	consents, err := s.gate.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": consents})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	tasks, err := s.store.ListActiveTasks(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	user := requestUser(r)
	records, err := s.store.ListAuditRecords(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
