package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCredential is returned when an agent is initialized without an API key.
var ErrMissingCredential = errors.New("agent credential is required")

// Source is a web page the agent consulted while answering.
type Source struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// Response is the raw, unnormalized reply of one Ask round trip.
type Response struct {
	Raw     string   `json:"raw"`
	Model   string   `json:"model,omitempty"`
	Sources []Source `json:"sources,omitempty"`
}

// Agent is the hosted assistant a session talks to. Ask blocks until the
// round trip (including any search sub-calls) completes or ctx ends.
type Agent interface {
	Ask(ctx context.Context, query string) (Response, error)
}

// Config controls agent construction.
type Config struct {
	Mode      string
	HTTPURL   string
	Model     string
	TraceMode TraceMode
	Profile   Profile
}

// StatusError reports a non-2xx reply from an HTTP agent endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent http status %d: %s", e.Code, e.Body)
}

// New performs the one-time agent initialization for a session.
func New(ctx context.Context, cfg Config, credential string) (Agent, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrMissingCredential
	}
	if cfg.Profile.Name == "" {
		p, err := DefaultProfile()
		if err != nil {
			return nil, err
		}
		cfg.Profile = p
	}
	if strings.TrimSpace(cfg.Model) != "" {
		cfg.Profile.Model = strings.TrimSpace(cfg.Model)
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto", "gemini":
		return NewGeminiAgent(ctx, credential, cfg.Profile, cfg.TraceMode)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAgent(cfg.HTTPURL, credential), nil
	case "mock":
		return NewMockAgent(cfg.Profile, cfg.TraceMode), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}
