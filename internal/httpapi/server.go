package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/plantdoc/internal/agent"
	"github.com/ent0n29/plantdoc/internal/chat"
	"github.com/ent0n29/plantdoc/internal/config"
	"github.com/ent0n29/plantdoc/internal/observability"
	"github.com/ent0n29/plantdoc/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	chat     *chat.Service
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, sessions *session.Manager, chatService *chat.Service, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		chat:     chatService,
		metrics:  metrics,
		logger:   logger,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser pages may drive a session that
				// holds the user's API key.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/session", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/ws", s.handleSessionWS)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleSessionStatus)
			r.Post("/init", s.handleInitSession)
			r.Post("/ask", s.handleAsk)
			r.Get("/conversation", s.handleConversation)
			r.Delete("/conversation", s.handleClearConversation)
			r.Post("/end", s.handleEndSession)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"agent_mode": s.agentMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "chat service not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"agent_mode":      s.agentMode(),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.metrics.ObserveSessionEvent("created", s.sessions.ActiveCount())

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Initialized:     sess.Initialized,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req session.InitRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.sessions.Initialize(r.Context(), id, req.APIKey)
	if err != nil {
		s.logger.Warn("agent initialization failed", zap.String("session_id", id), zap.Error(err))
		s.respondSessionError(w, err)
		return
	}
	s.metrics.ObserveSessionEvent("initialized", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if !s.chatAvailable(w) {
		return
	}

	// The agent round trip is not cancellable once started; a client that
	// goes away still gets its exchange recorded.
	ex, err := s.chat.Ask(context.WithoutCancel(r.Context()), id, req.Query)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ex)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if !s.chatAvailable(w) {
		return
	}
	id := chi.URLParam(r, "id")
	turns, err := s.chat.Conversation(id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if !s.chatAvailable(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.chat.Clear(id); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.metrics.ObserveSessionEvent("cleared", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      []any{},
	})
}

func (s *Server) chatAvailable(w http.ResponseWriter) bool {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat service not configured")
		return false
	}
	return true
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.End(id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.metrics.ObserveSessionEvent("ended", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

func (s *Server) agentMode() string {
	mode := strings.ToLower(strings.TrimSpace(s.cfg.AgentMode))
	if mode == "" {
		return "auto"
	}
	return mode
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	respondError(w, status, code, err.Error())
}

// errorStatus maps service errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return http.StatusGone, "session_ended"
	case errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, agent.ErrMissingCredential):
		return http.StatusBadRequest, "missing_credential"
	case errors.Is(err, session.ErrNotInitialized):
		return http.StatusConflict, "not_initialized"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "busy"
	default:
		return http.StatusBadGateway, "agent_init_failed"
	}
}
