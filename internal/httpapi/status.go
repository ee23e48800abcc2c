package httpapi

import (
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/plantdoc/internal/session"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type sessionStatusResponse struct {
	Session   *session.Session `json:"session"`
	AgentMode string           `json:"agent_mode"`
	TraceMode string           `json:"trace_mode"`
	Checks    []statusCheck    `json:"checks"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionStatusResponse{
		Session:   sess,
		AgentMode: s.agentMode(),
		TraceMode: s.cfg.AgentTraceMode,
		Checks:    s.statusChecks(sess),
	})
}

func (s *Server) statusChecks(sess *session.Session) []statusCheck {
	checks := make([]statusCheck, 0, 4)

	switch {
	case sess.Status != session.StatusActive:
		checks = append(checks, statusCheck{
			ID:     "session",
			Status: "error",
			Label:  "Session",
			Detail: string(sess.Status),
			Fix:    "Start a new session.",
		})
	case sess.Initialized:
		checks = append(checks, statusCheck{
			ID:     "agent_initialized",
			Status: "ok",
			Label:  "Agent",
			Detail: "initialized",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "agent_initialized",
			Status: "warn",
			Label:  "Agent",
			Detail: "waiting for an API key",
			Fix:    "Enter your Google API key and press Initialize.",
		})
	}

	switch mode := s.agentMode(); mode {
	case "auto", "gemini":
		checks = append(checks, statusCheck{
			ID:     "agent_mode",
			Status: "ok",
			Label:  "Agent backend",
			Detail: "gemini with Google Search grounding",
		})
	case "http":
		checks = append(checks, s.httpAgentCheck())
	case "mock":
		checks = append(checks, statusCheck{
			ID:     "agent_mode",
			Status: "warn",
			Label:  "Agent backend is mock",
			Detail: "Answers are canned and not grounded in search results.",
			Fix:    "Set AGENT_MODE=gemini.",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "agent_mode",
			Status: "error",
			Label:  "Agent backend",
			Detail: "unknown mode; expected auto|gemini|http|mock",
		})
	}

	if path := strings.TrimSpace(s.cfg.AgentProfilePath); path != "" {
		if _, err := os.Stat(path); err != nil {
			checks = append(checks, statusCheck{
				ID:     "agent_profile",
				Status: "error",
				Label:  "Agent profile",
				Detail: "profile file missing",
				Fix:    "Fix AGENT_PROFILE_PATH or unset it to use the built-in profile.",
			})
		} else {
			checks = append(checks, statusCheck{
				ID:     "agent_profile",
				Status: "ok",
				Label:  "Agent profile",
				Detail: path,
			})
		}
	}

	return checks
}

func (s *Server) httpAgentCheck() statusCheck {
	raw := strings.TrimSpace(s.cfg.AgentHTTPURL)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return statusCheck{
			ID:     "agent_http_url",
			Status: "error",
			Label:  "Agent endpoint",
			Detail: "AGENT_HTTP_URL is not a valid http(s) URL",
			Fix:    "Set AGENT_HTTP_URL, e.g. http://127.0.0.1:8000/ask.",
		}
	}
	return statusCheck{
		ID:     "agent_http_url",
		Status: "ok",
		Label:  "Agent endpoint",
		Detail: u.Host,
	}
}
