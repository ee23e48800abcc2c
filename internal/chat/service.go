// Package chat is the orchestration layer behind every user-facing surface:
// it takes a question, calls the session's agent, normalizes the reply and
// records both sides of the exchange.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/plantdoc/internal/agent"
	"github.com/ent0n29/plantdoc/internal/conversation"
	"github.com/ent0n29/plantdoc/internal/normalize"
	"github.com/ent0n29/plantdoc/internal/observability"
	"github.com/ent0n29/plantdoc/internal/policy"
	"github.com/ent0n29/plantdoc/internal/reliability"
	"github.com/ent0n29/plantdoc/internal/session"
)

// FailurePrefix marks assistant turns that report an agent failure.
const FailurePrefix = "❌ Error: "

var ErrEmptyQuery = errors.New("query must not be empty")

// Exchange is the outcome of one Ask.
type Exchange struct {
	User      conversation.Turn `json:"user"`
	Assistant conversation.Turn `json:"assistant"`
	Failed    bool              `json:"failed"`
	ErrorCode string            `json:"error_code,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	Method    string            `json:"method,omitempty"`
	Model     string            `json:"model,omitempty"`
	Sources   []agent.Source    `json:"sources,omitempty"`
}

type Service struct {
	sessions   *session.Manager
	normalizer *normalize.Normalizer
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func NewService(sessions *session.Manager, normalizer *normalize.Normalizer, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if normalizer == nil {
		normalizer = normalize.New("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions:   sessions,
		normalizer: normalizer,
		metrics:    metrics,
		logger:     logger,
	}
}

// Ask runs one blocking round trip. Input errors (empty query, session not
// initialized, request already in flight) are returned before anything is
// recorded. Agent failures are not errors: they become an assistant turn
// carrying FailurePrefix.
func (s *Service) Ask(ctx context.Context, sessionID, query string) (Exchange, error) {
	if strings.TrimSpace(query) == "" {
		return Exchange{}, ErrEmptyQuery
	}

	a, store, release, err := s.sessions.Begin(sessionID)
	if err != nil {
		return Exchange{}, err
	}
	defer release()

	log := s.logger.With(zap.String("session_id", sessionID))
	log.Info("ask received", zap.String("query", policy.RedactForLog(query, 160)))

	started := time.Now()
	userTurn := store.Append(conversation.RoleUser, query)

	resp, err := a.Ask(ctx, query)
	agentDone := time.Now()
	if err != nil {
		code, retryable := reliability.Classify(err)
		s.metrics.ObserveAgentError(code)
		s.metrics.ObserveAsk("failed", "", map[string]time.Duration{
			observability.StageAgentCall: agentDone.Sub(started),
			observability.StageAskTotal:  agentDone.Sub(started),
		})
		log.Warn("agent call failed", zap.Error(err), zap.String("code", code))
		return Exchange{
			User:      userTurn,
			Assistant: store.Append(conversation.RoleAssistant, FailurePrefix+err.Error()),
			Failed:    true,
			ErrorCode: code,
			Retryable: retryable,
		}, nil
	}

	result := s.normalizer.Normalize(resp.Raw)
	assistantTurn := store.Append(conversation.RoleAssistant, result.Text)
	finished := time.Now()

	s.metrics.ObserveAsk("ok", result.Method, map[string]time.Duration{
		observability.StageAgentCall: agentDone.Sub(started),
		observability.StageNormalize: finished.Sub(agentDone),
		observability.StageAskTotal:  finished.Sub(started),
	})
	log.Info("ask answered",
		zap.String("method", result.Method),
		zap.Int("raw_len", len(resp.Raw)),
		zap.Int("sources", len(resp.Sources)),
		zap.Duration("elapsed", finished.Sub(started)),
	)

	return Exchange{
		User:      userTurn,
		Assistant: assistantTurn,
		Method:    result.Method,
		Model:     resp.Model,
		Sources:   resp.Sources,
	}, nil
}

// Conversation returns the session's turns in order.
func (s *Service) Conversation(sessionID string) ([]conversation.Turn, error) {
	store, err := s.sessions.Conversation(sessionID)
	if err != nil {
		return nil, err
	}
	return store.Turns(), nil
}

// Clear resets the session's conversation log.
func (s *Service) Clear(sessionID string) error {
	if err := s.sessions.ClearConversation(sessionID); err != nil {
		return err
	}
	s.logger.Info("conversation cleared", zap.String("session_id", sessionID))
	return nil
}

// IsInputError reports whether err is a caller mistake rather than a fault.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyQuery) ||
		errors.Is(err, agent.ErrMissingCredential) ||
		errors.Is(err, session.ErrNotInitialized) ||
		errors.Is(err, session.ErrBusy)
}
