package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/retrotalk/internal/protocol"
	"github.com/ent0n29/retrotalk/internal/retroruntime"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleRetrospectWS streams the caller's collection changes. The first frame
// is always a snapshot.
func (s *Server) handleRetrospectWS(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(r)

	events, unsubscribe := s.service.Subscribe(userID)
	defer unsubscribe()

	snapshot, err := s.service.Snapshot(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.logger.Debug().Str("user_id", userID).Msg("retrospect stream connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	outbound <- protocol.NewRetrospectSnapshot(userID, snapshot)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
				continue
			case evt, ok := <-events:
				if !ok {
					cancel()
					return
				}
				msg = protocol.NewRetrospectEvent(evt)
			case msg = <-outbound:
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.observeWS("outbound", "write_error")
				cancel()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.observeWS("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
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
			s.enqueue(outbound, protocol.NewErrorEvent(protocol.CodeInvalidClientMessage, "gateway", err.Error(), false))
			continue
		}
		control, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		s.observeWS("inbound", control.Action)

		switch control.Action {
		case protocol.ActionPing:
			s.enqueue(outbound, protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionPong})
		case protocol.ActionSnapshot:
			records, err := s.service.Snapshot(ctx, userID)
			if err != nil {
				s.enqueue(outbound, protocol.NewErrorEvent(retroruntime.ErrorCode(err), "retrospects", err.Error(), true))
				continue
			}
			s.enqueue(outbound, protocol.NewRetrospectSnapshot(userID, records))
		}
	}

	cancel()
	<-writerDone
	s.logger.Debug().Str("user_id", userID).Msg("retrospect stream closed")
}

// enqueue keeps websocket writes on the writer goroutine and drops frames
// when the queue is saturated.
func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		s.observeWS("outbound", "drop_full")
	}
}

func (s *Server) observeWS(direction, typ string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, typ).Inc()
}
