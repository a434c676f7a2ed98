package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// Session represents a single client WebSocket connection.
//
// A session outlives login: it exists from the upgrade until the
// transport closes, and acquires a participant identity only after a
// successful login. Outbound messages go through a bounded queue
// drained by a dedicated writer goroutine so a slow client never
// stalls the hub.
type Session struct {
	// ID identifies the connection. Distinct from the participant ID,
	// which exists only after login.
	ID string

	// participantID is set on the hub goroutine after login and read
	// only there.
	participantID string

	conn   *websocket.Conn
	config *SessionConfig
	logger *slog.Logger
	hub    *Hub

	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool

	// alive records whether a liveness acknowledgment arrived since the
	// last miss check. Connections start alive.
	alive atomic.Bool

	closeOnce sync.Once
}

// newSession wraps an upgraded connection.
func newSession(conn *websocket.Conn, hub *Hub, config *SessionConfig, logger *slog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:     id,
		conn:   conn,
		config: config,
		logger: logger.With("session_id", id),
		hub:    hub,
		sendCh: make(chan []byte, config.SendQueue),
		done:   make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

// start launches the session's goroutines: reader, writer, and the
// liveness monitor.
func (s *Session) start() {
	go s.readLoop()
	go s.writeLoop()
	go s.liveness()
}

// readLoop reads messages until the connection closes and dispatches
// them to the hub. Liveness acknowledgments are absorbed here; they
// carry no state beyond the alive flag.
func (s *Session) readLoop() {
	defer s.hub.dropSession(s, "transport closed")

	s.conn.SetReadLimit(s.config.MaxMessageSize)

	for {
		// A connection that sends nothing at all for two full miss
		// intervals is dead even if the miss checker is slow.
		s.conn.SetReadDeadline(time.Now().Add(2 * s.config.MissInterval))

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		env, err := protocol.Decode(msg)
		if err != nil {
			s.logger.Warn("dropping malformed message", "error", err)
			continue
		}

		if env.Type == protocol.TypeAlive {
			s.alive.Store(true)
			continue
		}

		if err := s.hub.dispatch(s, env); err != nil {
			return
		}
	}
}

// writeLoop drains the outbound queue onto the connection.
func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Error("write error", "error", err)
				s.hub.dropSession(s, "write failed")
				return
			}
		case <-s.done:
			return
		}
	}
}

// liveness owns the two liveness timers: the probe ticker and the
// miss-check ticker. Both are stopped together when the session ends,
// so a torn-down connection leaks no timers.
func (s *Session) liveness() {
	probe := time.NewTicker(s.config.ProbeInterval)
	defer probe.Stop()
	miss := time.NewTicker(s.config.MissInterval)
	defer miss.Stop()

	for {
		select {
		case <-probe.C:
			s.Send(protocol.TypeAliveCheck, nil)

		case <-miss.C:
			if !s.alive.Swap(false) {
				// No acknowledgment across a full interval.
				s.logger.Info("liveness timeout")
				s.hub.livenessTimeout(s)
				return
			}

		case <-s.done:
			return
		}
	}
}

// Send encodes and queues a message for the client. A full queue drops
// the message and reports ErrSendQueueFull; the hub treats persistent
// drops as a dead connection.
func (s *Session) Send(t protocol.Type, payload any) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return NewSessionError(s.ID, "encode", err)
	}
	return s.sendRaw(data)
}

// sendRaw queues an already encoded message.
func (s *Session) sendRaw(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.sendCh <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendQueueFull
	}
}

// Close tears the connection down. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	})
}

// IsClosed reports whether the session has been torn down.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done returns a channel closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
