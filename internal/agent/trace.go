package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TraceMode selects the shape of Response.Raw.
type TraceMode string

const (
	// TraceOff returns the model text as-is.
	TraceOff TraceMode = "off"
	// TraceDebug wraps the answer in a runner debug transcript with speaker labels.
	TraceDebug TraceMode = "debug"
	// TraceVerbose appends a serialized event dump after the transcript header.
	TraceVerbose TraceMode = "verbose"
)

// ParseTraceMode maps a config value to a TraceMode.
func ParseTraceMode(v string) (TraceMode, error) {
	switch TraceMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", TraceOff:
		return TraceOff, nil
	case TraceDebug:
		return TraceDebug, nil
	case TraceVerbose:
		return TraceVerbose, nil
	default:
		return "", fmt.Errorf("invalid trace mode %q (expected off|debug|verbose)", v)
	}
}

type tracer struct {
	mode      TraceMode
	agentName string
	model     string
	sessionID string

	mu      sync.Mutex
	started bool
}

func newTracer(mode TraceMode, agentName, model string) *tracer {
	return &tracer{
		mode:      mode,
		agentName: agentName,
		model:     model,
		sessionID: "debug_session_" + uuid.NewString()[:8],
	}
}

func (t *tracer) render(query, text string) string {
	if t == nil || t.mode == TraceOff || t.mode == "" {
		return text
	}

	t.mu.Lock()
	header := fmt.Sprintf(" ### Continue session: %s", t.sessionID)
	if !t.started {
		header = fmt.Sprintf(" ### Created new session: %s", t.sessionID)
		t.started = true
	}
	t.mu.Unlock()

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString("User > ")
	b.WriteString(query)
	b.WriteString("\n")

	if t.mode == TraceVerbose {
		b.WriteString("[Event(model_version='")
		b.WriteString(t.model)
		b.WriteString("', content=Content(\n  parts=[\n    Part(\n      text=\"\"\"")
		b.WriteString(strings.ReplaceAll(text, `"""`, `\"\"\"`))
		b.WriteString("\"\"\"\n    ),\n  ],\n  role='model'\n), author='")
		b.WriteString(t.agentName)
		b.WriteString("', invocation_id='e-")
		b.WriteString(uuid.NewString())
		b.WriteString("')]\n")
		return b.String()
	}

	b.WriteString(t.agentName)
	b.WriteString(" > ")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}
