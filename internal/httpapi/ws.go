package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/plantdoc/internal/chat"
	"github.com/ent0n29/plantdoc/internal/conversation"
	"github.com/ent0n29/plantdoc/internal/protocol"
	"github.com/ent0n29/plantdoc/internal/session"
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if !s.chatAvailable(w) {
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveSessionEvent("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug("ws write failed", zap.String("session_id", sessionID), zap.Error(err))
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	send(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "connected",
		Detail:    "initialized=" + strconv.FormatBool(sess.Initialized),
	})

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_ = s.sessions.Touch(sessionID)
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		// An open connection that keeps talking is not idle.
		_ = s.sessions.Touch(sessionID)
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the queue is saturated.
				s.logger.Warn("ws outbound queue full", zap.String("session_id", sessionID))
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected", s.sessions.ActiveCount())
}

// runConnection handles client messages one at a time, so a connection never
// has more than one ask in flight.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.ClientAsk:
			if m.SessionID != sessionID {
				send(ctx, outbound, sessionMismatch(sessionID))
				continue
			}
			s.wsAsk(ctx, sessionID, m.Query, outbound)
		case protocol.ClientClear:
			if m.SessionID != sessionID {
				send(ctx, outbound, sessionMismatch(sessionID))
				continue
			}
			if err := s.chat.Clear(sessionID); err != nil {
				send(ctx, outbound, errorEvent(sessionID, err))
				continue
			}
			s.metrics.ObserveSessionEvent("cleared", s.sessions.ActiveCount())
			send(ctx, outbound, protocol.ConversationCleared{
				Type:      protocol.TypeConversationCleared,
				SessionID: sessionID,
			})
		}
	}
}

func (s *Server) wsAsk(ctx context.Context, sessionID, query string, outbound chan<- any) {
	if strings.TrimSpace(query) == "" {
		send(ctx, outbound, errorEvent(sessionID, chat.ErrEmptyQuery))
		return
	}

	send(ctx, outbound, protocol.AssistantBusy{Type: protocol.TypeAssistantBusy, SessionID: sessionID, Busy: true})
	ex, err := s.chat.Ask(context.WithoutCancel(ctx), sessionID, query)
	if err != nil {
		send(ctx, outbound, errorEvent(sessionID, err))
	} else {
		send(ctx, outbound, turnAppended(sessionID, ex.User, chat.Exchange{}))
		send(ctx, outbound, turnAppended(sessionID, ex.Assistant, ex))
	}
	send(ctx, outbound, protocol.AssistantBusy{Type: protocol.TypeAssistantBusy, SessionID: sessionID, Busy: false})
}

func turnAppended(sessionID string, turn conversation.Turn, ex chat.Exchange) protocol.TurnAppended {
	msg := protocol.TurnAppended{
		Type:      protocol.TypeTurnAppended,
		SessionID: sessionID,
		TurnID:    turn.ID,
		Role:      string(turn.Role),
		Content:   turn.Content,
		CreatedAt: turn.CreatedAt.Format(time.RFC3339Nano),
		Failed:    ex.Failed,
		Method:    ex.Method,
	}
	for _, src := range ex.Sources {
		msg.Sources = append(msg.Sources, protocol.Source{Title: src.Title, URI: src.URI})
	}
	return msg
}

func errorEvent(sessionID string, err error) protocol.ErrorEvent {
	_, code := errorStatus(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "chat",
		Retryable: errors.Is(err, session.ErrBusy),
		Detail:    err.Error(),
	}
}

func sessionMismatch(sessionID string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "session_mismatch",
		Source:    "gateway",
		Detail:    "message session_id does not match the connection",
	}
}

func send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAsk:
		return m.Type, true
	case protocol.ClientClear:
		return m.Type, true
	case protocol.AssistantBusy:
		return m.Type, true
	case protocol.TurnAppended:
		return m.Type, true
	case protocol.ConversationCleared:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
