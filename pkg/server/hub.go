package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roomverse-dev/roomverse/pkg/presence"
	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// tracerName identifies the hub's OpenTelemetry tracer.
const tracerName = "roomverse"

// kickGrace is how long a kicked client gets to receive the kick notice
// before its connection is dropped.
const kickGrace = 100 * time.Millisecond

// Hub owns the participant registry and processes every client event on
// a single goroutine. Sessions dispatch decoded envelopes to it;
// mutation and broadcast happen back to back with nothing interleaved.
type Hub struct {
	registry *presence.Registry

	// sessions and the index maps below are touched only on the hub
	// goroutine.
	sessions    map[string]*Session // session ID → session
	byPID       map[string]*Session // participant ID → session
	byVoiceAddr map[string]*Session // voice address → session

	ops  chan func()
	done chan struct{}

	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	loginLog  *ringLog
	chatLog   *ringLog
	serverLog *ringLog

	eventRate *rateCounter
}

// NewHub creates a hub around an empty registry.
func NewHub(logger *slog.Logger, m *metrics) *Hub {
	h := &Hub{
		sessions:    make(map[string]*Session),
		byPID:       make(map[string]*Session),
		byVoiceAddr: make(map[string]*Session),
		ops:         make(chan func(), 256),
		done:        make(chan struct{}),
		logger:      logger.With("component", "hub"),
		metrics:     m,
		tracer:      otel.Tracer(tracerName),
		loginLog:    newRingLog(),
		chatLog:     newRingLog(),
		serverLog:   newRingLog(),
		eventRate:   newRateCounter(),
	}
	h.registry = presence.NewRegistry(h.broadcastSnapshot)
	return h
}

// Run processes events until ctx is cancelled. It must be running
// before any session is attached.
func (h *Hub) Run(ctx context.Context) {
	h.eventRate.start(h.done)
	defer close(h.done)

	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// shutdown closes every session. Registry state dies with the process;
// clients rebuild it by reconnecting.
func (h *Hub) shutdown() {
	for _, s := range h.sessions {
		s.Close()
	}
	h.logger.Info("hub stopped", "sessions_closed", len(h.sessions))
}

// Registry exposes the participant registry for read-only use (admin
// stats, tests).
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// Logs returns the admin ring logs: logins, chat, server events.
func (h *Hub) Logs() (logins, chats, serverEvents []LogEntry) {
	return h.loginLog.Entries(), h.chatLog.Entries(), h.serverLog.Entries()
}

// EventsPerSecond reports the event rate over the last whole second.
func (h *Hub) EventsPerSecond() int64 {
	return h.eventRate.last()
}

// attach registers a new session and starts its goroutines.
func (h *Hub) attach(s *Session) error {
	return h.do(func() {
		h.sessions[s.ID] = s
		s.start()
		h.logger.Info("client connected", "session_id", s.ID)
	})
}

// dispatch hands a decoded envelope to the hub goroutine.
func (h *Hub) dispatch(s *Session, env protocol.Envelope) error {
	return h.do(func() { h.handle(s, env) })
}

// dropSession requests removal of a session from any goroutine.
func (h *Hub) dropSession(s *Session, reason string) {
	// Best effort: if the hub is gone the process is shutting down and
	// the connection dies with it.
	_ = h.do(func() { h.remove(s, reason) })
}

// livenessTimeout removes a session that missed a full liveness
// interval. Identical to a logout from every other client's view.
func (h *Hub) livenessTimeout(s *Session) {
	h.metrics.livenessKills.Inc()
	h.dropSession(s, "liveness timeout")
}

// Kick removes a participant on administrative request. The target is
// notified, then torn down exactly like a liveness timeout. Returns
// ErrSessionNotFound for unknown participants.
func (h *Hub) Kick(participantID, reason string) error {
	errCh := make(chan error, 1)
	err := h.do(func() {
		s, ok := h.byPID[participantID]
		if !ok {
			errCh <- ErrSessionNotFound
			return
		}
		s.Send(protocol.TypeKick, protocol.Kick{Reason: reason})
		h.serverLog.Append(time.Now(), fmt.Sprintf("kicked %s", participantID))
		time.AfterFunc(kickGrace, func() { h.dropSession(s, "kicked") })
		errCh <- nil
	})
	if err != nil {
		return err
	}
	return <-errCh
}

// do runs fn on the hub goroutine.
func (h *Hub) do(fn func()) error {
	select {
	case h.ops <- fn:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// handle processes one client envelope. Runs on the hub goroutine.
func (h *Hub) handle(s *Session, env protocol.Envelope) {
	h.eventRate.inc()
	h.metrics.eventsTotal.WithLabelValues(string(env.Type)).Inc()

	_, span := h.tracer.Start(context.Background(), "hub.event",
		trace.WithAttributes(attribute.String("event.type", string(env.Type))))
	defer span.End()

	start := time.Now()
	err := h.handleTyped(s, env)
	h.metrics.eventDuration.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("event failed", "type", env.Type, "error", err)
	}
}

func (h *Hub) handleTyped(s *Session, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeLogin:
		return h.handleLogin(s, env)
	case protocol.TypeLogout:
		h.remove(s, "logout")
		return nil
	case protocol.TypeVoiceReady:
		return h.handleVoiceReady(s, env)
	case protocol.TypeMove:
		return h.handleMove(s, env)
	case protocol.TypeMicState:
		return h.handleMicState(s, env)
	case protocol.TypeSpeakerState:
		return h.handleSpeakerState(s, env)
	case protocol.TypeChat:
		return h.handleChat(s, env)
	case protocol.TypeStamp:
		return h.handleStamp(s, env)
	case protocol.TypeStroke:
		return h.handleStroke(s, env)
	case protocol.TypeVoiceSignal:
		return h.handleVoiceSignal(s, env)
	default:
		return fmt.Errorf("server: unknown message type %q", env.Type)
	}
}

func (h *Hub) handleLogin(s *Session, env protocol.Envelope) error {
	var req protocol.LoginRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		return err
	}
	if s.participantID != "" {
		return fmt.Errorf("server: session %s already logged in", s.ID)
	}

	p, err := h.registry.Login(req.DisplayName)
	if err != nil {
		h.metrics.loginRejects.Inc()
		s.Send(protocol.TypeLoginError, protocol.LoginError{Message: err.Error()})
		return nil // reported to the requester only, not an event failure
	}

	s.participantID = p.ID
	h.byPID[p.ID] = s
	h.metrics.participants.Set(float64(h.registry.Count()))

	s.Send(protocol.TypeLoginSuccess, protocol.LoginSuccess{ID: p.ID, DisplayName: p.DisplayName})
	h.loginLog.Append(time.Now(), fmt.Sprintf("login: %s (%s)", p.DisplayName, p.ID))
	s.logger.Info("participant logged in", "participant_id", p.ID, "display_name", p.DisplayName)
	return nil
}

func (h *Hub) handleVoiceReady(s *Session, env protocol.Envelope) error {
	var vr protocol.VoiceReady
	if err := protocol.DecodePayload(env, &vr); err != nil {
		return err
	}
	if s.participantID == "" {
		return ErrNotLoggedIn
	}
	// A reinitialized voice subsystem replaces the old address; peers
	// observe the change through the snapshot and re-dial.
	if old, ok := h.registry.Get(s.participantID); ok && old.VoiceAddr != "" {
		delete(h.byVoiceAddr, old.VoiceAddr)
	}
	h.byVoiceAddr[vr.VoiceAddr] = s
	return h.registry.SetVoiceAddr(s.participantID, vr.VoiceAddr)
}

func (h *Hub) handleMove(s *Session, env protocol.Envelope) error {
	var mv protocol.Move
	if err := protocol.DecodePayload(env, &mv); err != nil {
		return err
	}
	if s.participantID == "" {
		return ErrNotLoggedIn
	}
	return h.registry.SetPose(s.participantID, mv.Position, mv.Yaw)
}

func (h *Hub) handleMicState(s *Session, env protocol.Envelope) error {
	var ms protocol.MicState
	if err := protocol.DecodePayload(env, &ms); err != nil {
		return err
	}
	if s.participantID == "" {
		return ErrNotLoggedIn
	}
	return h.registry.SetMicMuted(s.participantID, ms.Muted)
}

func (h *Hub) handleSpeakerState(s *Session, env protocol.Envelope) error {
	var ss protocol.SpeakerState
	if err := protocol.DecodePayload(env, &ss); err != nil {
		return err
	}
	if s.participantID == "" {
		return ErrNotLoggedIn
	}
	return h.registry.SetSpeakerMuted(s.participantID, ss.Muted)
}

func (h *Hub) handleChat(s *Session, env protocol.Envelope) error {
	var chat protocol.Chat
	if err := protocol.DecodePayload(env, &chat); err != nil {
		return err
	}
	p, ok := h.participant(s)
	if !ok {
		return ErrNotLoggedIn
	}
	if len(chat.Text) == 0 || len(chat.Text) > protocol.MaxChatLen {
		return fmt.Errorf("server: chat message length %d out of bounds", len(chat.Text))
	}

	relay := protocol.ChatRelay{
		SenderID:    p.ID,
		DisplayName: p.DisplayName,
		Text:        chat.Text,
		Mentions:    chat.Mentions,
		SentAt:      time.Now(),
	}
	// The sender rendered its message locally on send; relaying it back
	// would display it twice.
	h.relayExcept(s, protocol.TypeChatRelay, relay, "chat")
	h.chatLog.Append(relay.SentAt, fmt.Sprintf("%s: %s", p.DisplayName, chat.Text))
	return nil
}

func (h *Hub) handleStamp(s *Session, env protocol.Envelope) error {
	var stamp protocol.Stamp
	if err := protocol.DecodePayload(env, &stamp); err != nil {
		return err
	}
	p, ok := h.participant(s)
	if !ok {
		return ErrNotLoggedIn
	}
	if stamp.Glyph == "" {
		return fmt.Errorf("server: empty stamp glyph")
	}

	relay := protocol.StampRelay{OwnerID: p.ID, DisplayName: p.DisplayName, Glyph: stamp.Glyph}
	h.relayAll(protocol.TypeStampRelay, relay, "stamp")
	return nil
}

func (h *Hub) handleStroke(s *Session, env protocol.Envelope) error {
	var stroke protocol.Stroke
	if err := protocol.DecodePayload(env, &stroke); err != nil {
		return err
	}
	if s.participantID == "" {
		return ErrNotLoggedIn
	}
	if !protocol.ValidStroke(stroke.Points) {
		return fmt.Errorf("server: stroke with %d points rejected", len(stroke.Points))
	}
	if stroke.Timestamp == 0 {
		stroke.Timestamp = time.Now().UnixMilli()
	}

	relay := protocol.StrokeRelay{
		OwnerID:   s.participantID,
		Points:    stroke.Points,
		Color:     stroke.Color,
		Timestamp: stroke.Timestamp,
	}
	// The emitter already holds the stroke locally.
	h.relayExcept(s, protocol.TypeStrokeRelay, relay, "stroke")
	return nil
}

func (h *Hub) handleVoiceSignal(s *Session, env protocol.Envelope) error {
	var sig protocol.VoiceSignal
	if err := protocol.DecodePayload(env, &sig); err != nil {
		return err
	}
	p, ok := h.participant(s)
	if !ok {
		return ErrNotLoggedIn
	}
	// The sender's address comes from its voiceReady registration, not
	// from the signal itself.
	sig.From = p.VoiceAddr

	target, ok := h.byVoiceAddr[sig.To]
	if !ok {
		// The addressee may have left between snapshot and dial; the
		// caller's mesh retries on the next reconciliation pass.
		return fmt.Errorf("server: no session for voice address %s", sig.To)
	}
	h.metrics.relays.WithLabelValues("voice_signal").Inc()
	return target.Send(protocol.TypeVoiceSignal, sig)
}

// participant resolves the session's registry record.
func (h *Hub) participant(s *Session) (presence.Participant, bool) {
	if s.participantID == "" {
		return presence.Participant{}, false
	}
	return h.registry.Get(s.participantID)
}

// remove detaches a session and, if it was logged in, removes its
// participant and broadcasts the shrunken registry. Runs on the hub
// goroutine; idempotent.
func (h *Hub) remove(s *Session, reason string) {
	if _, ok := h.sessions[s.ID]; !ok {
		s.Close()
		return
	}
	delete(h.sessions, s.ID)

	if s.participantID != "" {
		if p, ok := h.registry.Get(s.participantID); ok {
			h.loginLog.Append(time.Now(), fmt.Sprintf("logout: %s (%s)", p.DisplayName, p.ID))
			if p.VoiceAddr != "" {
				delete(h.byVoiceAddr, p.VoiceAddr)
			}
		}
		delete(h.byPID, s.participantID)
		h.registry.Remove(s.participantID)
		h.metrics.participants.Set(float64(h.registry.Count()))
	}

	s.Close()
	h.logger.Info("client removed", "session_id", s.ID, "reason", reason)
}

// broadcastSnapshot pushes the full registry to every connected client.
// Installed as the registry observer, so it runs synchronously with the
// mutation that produced the snapshot.
func (h *Hub) broadcastSnapshot(snap protocol.Snapshot) {
	data, err := protocol.Encode(protocol.TypeSnapshot, snap)
	if err != nil {
		h.logger.Error("encoding snapshot", "error", err)
		return
	}
	h.metrics.broadcasts.Inc()

	for _, s := range h.sessions {
		if err := s.sendRaw(data); err != nil {
			h.metrics.sendDrops.Inc()
			s.logger.Warn("dropping snapshot", "error", err)
		}
	}
}

// relayAll forwards a message to every connected client.
func (h *Hub) relayAll(t protocol.Type, payload any, kind string) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		h.logger.Error("encoding relay", "type", t, "error", err)
		return
	}
	h.metrics.relays.WithLabelValues(kind).Inc()
	for _, s := range h.sessions {
		if err := s.sendRaw(data); err != nil {
			h.metrics.sendDrops.Inc()
		}
	}
}

// relayExcept forwards a message to every connected client but the
// sender.
func (h *Hub) relayExcept(sender *Session, t protocol.Type, payload any, kind string) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		h.logger.Error("encoding relay", "type", t, "error", err)
		return
	}
	h.metrics.relays.WithLabelValues(kind).Inc()
	for _, s := range h.sessions {
		if s == sender {
			continue
		}
		if err := s.sendRaw(data); err != nil {
			h.metrics.sendDrops.Inc()
		}
	}
}
