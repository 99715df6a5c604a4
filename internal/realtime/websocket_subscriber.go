package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	outboundBuffer = 64
)

// WebSocketSubscriber delivers events to a single dashboard activity stream
// connection. Writes to the underlying connection are serialized through an
// internal goroutine since *websocket.Conn forbids concurrent writers.
type WebSocketSubscriber struct {
	baseSubscriber

	conn   *websocket.Conn
	logger *slog.Logger

	outbound chan Event
	once     sync.Once
	closed   chan struct{}
}

// NewWebSocketSubscriber wraps conn as an EventSubscriber and starts its
// write pump. Callers must call Close (directly, or via EventBus.Unsubscribe)
// once the connection's read loop exits.
func NewWebSocketSubscriber(id string, ctx context.Context, conn *websocket.Conn, logger *slog.Logger) *WebSocketSubscriber {
	s := &WebSocketSubscriber{
		baseSubscriber: baseSubscriber{id: id, ctx: ctx},
		conn:           conn,
		logger:         logger.With("component", "websocket_subscriber", "subscriber_id", id),
		outbound:       make(chan Event, outboundBuffer),
		closed:         make(chan struct{}),
	}
	go s.writePump()
	return s
}

// Send enqueues event for delivery. It never blocks on a slow reader: a full
// buffer drops the event rather than stalling the broadcast worker.
func (s *WebSocketSubscriber) Send(event Event) error {
	select {
	case <-s.closed:
		return ErrSubscriberClosed
	default:
	}
	select {
	case s.outbound <- event:
		return nil
	default:
		s.logger.Warn("dropping event, subscriber outbound buffer full", "event_type", event.Type)
		return nil
	}
}

// Close stops the write pump and closes the underlying connection. Safe to
// call more than once.
func (s *WebSocketSubscriber) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *WebSocketSubscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.closed:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case <-s.ctx.Done():
			return

		case event, ok := <-s.outbound:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("failed to marshal event", "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("write failed, closing subscriber", "error", err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
