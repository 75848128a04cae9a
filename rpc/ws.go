package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"proofofwork/core/events"
	"proofofwork/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
)

type escrowStreamPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type streamFilter struct {
	jobID     string
	eventType string
}

func (f streamFilter) matches(payload escrowStreamPayload) bool {
	if f.eventType != "" && payload.Type != f.eventType {
		return false
	}
	if f.jobID != "" && payload.Attributes["jobId"] != f.jobID {
		return false
	}
	return true
}

func (s *Server) handleEscrowStream(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.stream == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	filter := streamFilter{
		jobID:     strings.TrimSpace(query.Get("jobId")),
		eventType: strings.TrimSpace(query.Get("type")),
	}
	// Subscribe before the handshake completes so no event committed after
	// the client connects is missed.
	updates, cancel := s.stream.Subscribe()
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	observability.Stream().SubscriberJoined()
	defer observability.Stream().SubscriberLeft()

	// Reads are only needed to observe the client closing the connection.
	ctx := conn.CloseRead(r.Context())
	if err := streamEscrowEvents(ctx, conn, updates, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("escrow stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEscrowEvents(ctx context.Context, conn *websocket.Conn, updates <-chan events.Event, filter streamFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			payload, ok := streamPayloadFrom(evt)
			if !ok || !filter.matches(payload) {
				continue
			}
			if err := writeStreamPayload(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func streamPayloadFrom(evt events.Event) (escrowStreamPayload, bool) {
	data := events.PayloadOf(evt)
	if data == nil {
		return escrowStreamPayload{}, false
	}
	attrs := make(map[string]string, len(data.Attributes))
	for k, v := range data.Attributes {
		attrs[k] = v
	}
	return escrowStreamPayload{Type: data.Type, Attributes: attrs}, true
}

func writeStreamPayload(ctx context.Context, conn *websocket.Conn, payload escrowStreamPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
