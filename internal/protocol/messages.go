package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAsk           MessageType = "ask"
	TypeClientClear         MessageType = "clear"
	TypeAssistantBusy       MessageType = "assistant_busy"
	TypeTurnAppended        MessageType = "turn_appended"
	TypeConversationCleared MessageType = "conversation_cleared"
	TypeSystemEvent         MessageType = "system_event"
	TypeErrorEvent          MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAsk struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Query     string      `json:"query"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientClear struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// AssistantBusy brackets a blocking agent call so the page can show a
// spinner and disable the submit button.
type AssistantBusy struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Busy      bool        `json:"busy"`
}

type Source struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

type TurnAppended struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"created_at"`
	Failed    bool        `json:"failed,omitempty"`
	Method    string      `json:"method,omitempty"`
	Sources   []Source    `json:"sources,omitempty"`
}

type ConversationCleared struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAsk:
		var msg ClientAsk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.SessionID = strings.TrimSpace(msg.SessionID)
		if msg.SessionID == "" {
			return nil, errors.New("invalid ask: session_id is required")
		}
		return msg, nil
	case TypeClientClear:
		var msg ClientClear
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.SessionID = strings.TrimSpace(msg.SessionID)
		if msg.SessionID == "" {
			return nil, errors.New("invalid clear: session_id is required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
