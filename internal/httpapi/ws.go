package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clerk/internal/chat"
	"github.com/ent0n29/clerk/internal/observability"
	"github.com/ent0n29/clerk/internal/protocol"
)

const (
	wsReadLimit    = 64 << 10
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := observability.LoggerFromContext(r.Context()).WithField("conversation_id", conversationID)
	log.Debug("websocket connected")
	s.metrics.ConversationEvent("ws_connected")

	ctx, cancel := context.WithCancel(observability.WithLogger(r.Context(), log))
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runConnection(ctx, conversationID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, outbound, cancel, log)
	}()

	s.send(ctx, outbound, protocol.SystemEvent{
		Type:           protocol.TypeSystemEvent,
		ConversationID: conversationID,
		Code:           "connected",
	})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveWSMessage("inbound", "invalid")
			s.send(ctx, outbound, protocol.ErrorEvent{
				Type:           protocol.TypeErrorEvent,
				ConversationID: conversationID,
				Code:           "invalid_client_message",
				Retryable:      false,
				Detail:         err.Error(),
			})
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

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	log.Debug("websocket disconnected")
	s.metrics.ConversationEvent("ws_disconnected")
}

// wsWriter is the write side of a websocket connection.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// writeLoop is the only writer on conn. On a failed write it closes conn,
// which unblocks the read loop, and drains outbound until the runner is done.
func (s *Server) writeLoop(conn wsWriter, outbound <-chan any, cancel context.CancelFunc, log logrus.FieldLogger) {
	for msg := range outbound {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.WithError(err).Debug("websocket write failed")
			cancel()
			_ = conn.Close()
			for range outbound {
			}
			return
		}
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.ObserveWSMessage("outbound", string(t))
		}
	}
}

// runConnection handles client messages one at a time so replies keep the
// order of the messages that produced them.
func (s *Server) runConnection(ctx context.Context, conversationID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.ChatMessage:
			s.send(ctx, outbound, s.replyTo(ctx, conversationID, m))
		case protocol.ClientControl:
			id := conversationID
			if strings.TrimSpace(m.ConversationID) != "" {
				id = strings.TrimSpace(m.ConversationID)
			}
			code := "pong"
			if m.Action == protocol.ActionEnd {
				s.chat.End(id)
				code = "conversation_ended"
			}
			s.send(ctx, outbound, protocol.SystemEvent{
				Type:           protocol.TypeSystemEvent,
				ConversationID: id,
				Code:           code,
			})
		}
	}
}

func (s *Server) replyTo(ctx context.Context, conversationID string, m protocol.ChatMessage) any {
	id := conversationID
	if strings.TrimSpace(m.ConversationID) != "" {
		id = strings.TrimSpace(m.ConversationID)
	}
	out, err := s.chat.Send(ctx, chat.SendInput{ConversationID: id, Message: m.Message})
	if err != nil {
		_, code := chatErrorStatus(err)
		if code == "internal_error" {
			observability.LoggerFromContext(ctx).WithError(err).Error("chat turn failed")
		}
		return protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: id,
			RequestID:      m.RequestID,
			Code:           code,
			Retryable:      code != "invalid_request",
			Detail:         publicMessage(err),
		}
	}
	return protocol.ChatReply{
		Type:           protocol.TypeChatReply,
		ConversationID: out.ConversationID,
		RequestID:      m.RequestID,
		Reply:          out.Reply,
		Degraded:       out.Degraded,
	}
}

func (s *Server) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ChatReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
