package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/plantdoc/internal/agent"
	"github.com/ent0n29/plantdoc/internal/chat"
	"github.com/ent0n29/plantdoc/internal/config"
	"github.com/ent0n29/plantdoc/internal/httpapi"
	"github.com/ent0n29/plantdoc/internal/normalize"
	"github.com/ent0n29/plantdoc/internal/observability"
	"github.com/ent0n29/plantdoc/internal/session"
)

type BuildResult struct {
	Config     config.Config
	Profile    agent.Profile
	API        *httpapi.Server
	Sessions   *session.Manager
	Chat       *chat.Service
	Normalizer *normalize.Normalizer
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// Build wires the service graph shared by the server and the terminal
// commands. A nil reg registers metrics on the default Prometheus registry.
func Build(_ context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	trace, err := agent.ParseTraceMode(cfg.AgentTraceMode)
	if err != nil {
		return nil, err
	}
	profile, err := agent.LoadProfile(cfg.AgentProfilePath)
	if err != nil {
		return nil, fmt.Errorf("agent profile init failed: %w", err)
	}
	if name := strings.TrimSpace(cfg.AgentName); name != "" {
		profile.Name = name
	}

	metrics := observability.NewMetricsWith(cfg.MetricsNamespace, reg)
	normalizer := normalize.New(profile.Name)

	agentCfg := agent.Config{
		Mode:      cfg.AgentMode,
		HTTPURL:   cfg.AgentHTTPURL,
		Model:     cfg.GeminiModel,
		TraceMode: trace,
		Profile:   profile,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, func(ctx context.Context, credential string) (agent.Agent, error) {
		return agent.New(ctx, agentCfg, credential)
	})
	sessions.SetEndedRetention(cfg.SessionEndedRetention)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired", sessions.ActiveCount())
		logger.Info("session expired", zap.String("session_id", s.ID))
	})

	chatService := chat.NewService(sessions, normalizer, metrics, logger)
	api := httpapi.New(cfg, sessions, chatService, metrics, logger)

	logger.Info("service graph ready",
		zap.String("agent_mode", cfg.AgentMode),
		zap.String("agent_name", profile.Name),
		zap.String("model", modelName(profile, cfg)),
		zap.String("trace_mode", string(trace)),
	)

	return &BuildResult{
		Config:     cfg,
		Profile:    profile,
		API:        api,
		Sessions:   sessions,
		Chat:       chatService,
		Normalizer: normalizer,
		Metrics:    metrics,
		Logger:     logger,
	}, nil
}

// StartSession creates a session and runs the agent handshake with credential.
func (b *BuildResult) StartSession(ctx context.Context, credential string) (string, error) {
	sess := b.Sessions.Create()
	if _, err := b.Sessions.Initialize(ctx, sess.ID, credential); err != nil {
		_, _ = b.Sessions.End(sess.ID)
		return "", err
	}
	b.Metrics.ObserveSessionEvent("initialized", b.Sessions.ActiveCount())
	return sess.ID, nil
}

func modelName(profile agent.Profile, cfg config.Config) string {
	if m := strings.TrimSpace(cfg.GeminiModel); m != "" {
		return m
	}
	return profile.Model
}
