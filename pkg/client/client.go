package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomverse-dev/roomverse/pkg/ephemeral"
	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// Errors returned by the client.
var (
	// ErrLoginRejected is returned when the server refuses the display
	// name. The underlying server message is attached.
	ErrLoginRejected = errors.New("client: login rejected")

	// ErrClosed is returned from send methods after the connection ends.
	ErrClosed = errors.New("client: connection closed")

	// ErrKicked is reported through Done when an administrator removed
	// this participant.
	ErrKicked = errors.New("client: kicked by server")
)

// VoiceReconciler is reconciled with the full remote voice-address set
// after every snapshot. voice.Mesh satisfies it.
type VoiceReconciler interface {
	Reconcile(addrs []string)
}

// VoiceStatus reports whether a live audio link exists to a voice
// address. voice.Mesh satisfies it; a VoiceMesh that also implements
// VoiceStatus feeds each shadow entity's VoiceConnected flag.
type VoiceStatus interface {
	Connected(addr string) bool
}

// Config configures a client connection. Only URL and DisplayName are
// required.
type Config struct {
	// URL is the server's WebSocket endpoint, e.g. ws://host:3000/ws.
	URL string

	// DisplayName is the name to log in under. Must be unique among
	// currently connected participants.
	DisplayName string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Renderer receives shadow entity lifecycle callbacks. May be nil.
	Renderer Renderer

	// VoiceMesh, if set, is reconciled after every snapshot.
	VoiceMesh VoiceReconciler

	// MoveInterval is the minimum spacing between outbound position
	// updates. Default: 100ms.
	MoveInterval time.Duration

	// Event callbacks, all optional and all invoked from the read
	// goroutine.
	OnChat        func(protocol.ChatRelay)
	OnStamp       func(protocol.StampRelay)
	OnStroke      func(protocol.StrokeRelay)
	OnVoiceSignal func(protocol.VoiceSignal)
	OnKick        func(reason string)
}

// SelfState mirrors the server-overridable fields of this client's own
// registry record. Position is deliberately absent; the local pose is
// driven locally and never confirmed back from the server.
type SelfState struct {
	MicMuted     bool
	SpeakerMuted bool
	VoiceAddr    string
}

// Client is a connected, logged-in presence client.
type Client struct {
	config Config
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	id          string
	displayName string

	selfMu sync.Mutex
	self   SelfState

	reconciler *Reconciler
	stamps     *ephemeral.StampBoard
	strokes    *ephemeral.StrokeSet
	moveGate   *throttle

	loggedIn atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
	doneErr  error
	doneOnce sync.Once
}

// Dial connects, logs in, and starts the read loop. It returns once the
// server has confirmed or rejected the login, or ctx expires.
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("client: URL is required")
	}
	if strings.TrimSpace(config.DisplayName) == "" {
		return nil, errors.New("client: DisplayName is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", config.URL, err)
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	c := &Client{
		config:     config,
		logger:     logger.With("component", "client"),
		conn:       conn,
		reconciler: NewReconciler(config.Renderer),
		stamps:     ephemeral.NewStampBoard(),
		strokes:    ephemeral.NewStrokeSet(),
		moveGate:   newThrottle(config.MoveInterval),
		self:       SelfState{MicMuted: true}, // participants join muted
		done:       make(chan struct{}),
	}
	if vs, ok := config.VoiceMesh.(VoiceStatus); ok {
		c.reconciler.SetVoiceStatus(vs)
	}

	loginCh := make(chan error, 1)
	go c.readLoop(loginCh)

	if err := c.send(protocol.TypeLogin, protocol.LoginRequest{DisplayName: config.DisplayName}); err != nil {
		c.close(err)
		return nil, err
	}

	select {
	case err := <-loginCh:
		if err != nil {
			c.close(err)
			return nil, err
		}
	case <-ctx.Done():
		c.close(ctx.Err())
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.doneErr
	}
	return c, nil
}

// ID returns the server-assigned participant ID.
func (c *Client) ID() string {
	return c.id
}

// DisplayName returns the confirmed display name.
func (c *Client) DisplayName() string {
	return c.displayName
}

// Reconciler exposes the shadow entity set for the render layer.
func (c *Client) Reconciler() *Reconciler {
	return c.reconciler
}

// Stamps exposes the live stamp board.
func (c *Client) Stamps() *ephemeral.StampBoard {
	return c.stamps
}

// Strokes exposes the live stroke set.
func (c *Client) Strokes() *ephemeral.StrokeSet {
	return c.strokes
}

// Done is closed when the connection ends. Err reports why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.doneErr
	default:
		return nil
	}
}

// readLoop processes server messages until the connection closes. The
// first loginSuccess or loginError resolves loginCh.
func (c *Client) readLoop(loginCh chan<- error) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.close(fmt.Errorf("client: read: %w", err))
			return
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		c.handle(env, loginCh)
	}
}

func (c *Client) handle(env protocol.Envelope, loginCh chan<- error) {
	switch env.Type {
	case protocol.TypeAliveCheck:
		// Answer immediately; liveness does not wait for the app.
		if err := c.send(protocol.TypeAlive, nil); err != nil {
			c.logger.Warn("liveness ack failed", "error", err)
		}

	case protocol.TypeLoginSuccess:
		var ok protocol.LoginSuccess
		if err := protocol.DecodePayload(env, &ok); err != nil {
			resolveLogin(loginCh, err)
			return
		}
		c.id = ok.ID
		c.displayName = ok.DisplayName
		c.loggedIn.Store(true)
		resolveLogin(loginCh, nil)

	case protocol.TypeLoginError:
		var le protocol.LoginError
		if err := protocol.DecodePayload(env, &le); err != nil {
			resolveLogin(loginCh, err)
			return
		}
		resolveLogin(loginCh, fmt.Errorf("%w: %s", ErrLoginRejected, le.Message))

	case protocol.TypeSnapshot:
		// Until login is confirmed the client has no identity to
		// exclude from the shadow set; the next snapshot heals any gap.
		if !c.loggedIn.Load() {
			return
		}
		var snap protocol.Snapshot
		if err := protocol.DecodePayload(env, &snap); err != nil {
			c.logger.Warn("dropping malformed snapshot", "error", err)
			return
		}
		c.refreshSelf(snap)
		c.reconciler.Apply(snap, c.id)
		c.reconcileVoice(snap)

	case protocol.TypeChatRelay:
		var relay protocol.ChatRelay
		if err := protocol.DecodePayload(env, &relay); err != nil {
			return
		}
		if c.config.OnChat != nil {
			c.config.OnChat(relay)
		}

	case protocol.TypeStampRelay:
		var relay protocol.StampRelay
		if err := protocol.DecodePayload(env, &relay); err != nil {
			return
		}
		c.stamps.Show(relay.OwnerID, relay.Glyph, time.Now())
		if c.config.OnStamp != nil {
			c.config.OnStamp(relay)
		}

	case protocol.TypeStrokeRelay:
		var relay protocol.StrokeRelay
		if err := protocol.DecodePayload(env, &relay); err != nil {
			return
		}
		accepted := c.strokes.Add(ephemeral.Stroke{
			OwnerID:   relay.OwnerID,
			Points:    relay.Points,
			Color:     relay.Color,
			Timestamp: relay.Timestamp,
		})
		if accepted && c.config.OnStroke != nil {
			c.config.OnStroke(relay)
		}

	case protocol.TypeVoiceSignal:
		var sig protocol.VoiceSignal
		if err := protocol.DecodePayload(env, &sig); err != nil {
			return
		}
		if c.config.OnVoiceSignal != nil {
			c.config.OnVoiceSignal(sig)
		}

	case protocol.TypeKick:
		var kick protocol.Kick
		if err := protocol.DecodePayload(env, &kick); err == nil && c.config.OnKick != nil {
			c.config.OnKick(kick.Reason)
		}
		c.close(ErrKicked)

	default:
		c.logger.Debug("ignoring message", "type", env.Type)
	}
}

// refreshSelf confirms the server-overridable self-state fields from
// this client's own record in the snapshot. The registry copy is
// authoritative: a server-side override lands here on the broadcast it
// triggers.
func (c *Client) refreshSelf(snap protocol.Snapshot) {
	for _, p := range snap.Participants {
		if p.ID != c.id {
			continue
		}
		c.selfMu.Lock()
		c.self = SelfState{
			MicMuted:     p.MicMuted,
			SpeakerMuted: p.SpeakerMuted,
			VoiceAddr:    p.VoiceAddr,
		}
		c.selfMu.Unlock()
		return
	}
}

// Self returns the last server-confirmed state of this client's own
// record.
func (c *Client) Self() SelfState {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	return c.self
}

// reconcileVoice hands the remote voice-address set to the mesh.
func (c *Client) reconcileVoice(snap protocol.Snapshot) {
	if c.config.VoiceMesh == nil {
		return
	}
	addrs := make([]string, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		if p.ID == c.id || p.VoiceAddr == "" {
			continue
		}
		addrs = append(addrs, p.VoiceAddr)
	}
	c.config.VoiceMesh.Reconcile(addrs)
}

// AnnounceVoice registers this client's voice-mesh address with the
// server. Call it once the voice subsystem is listening.
func (c *Client) AnnounceVoice(addr string) error {
	return c.send(protocol.TypeVoiceReady, protocol.VoiceReady{VoiceAddr: addr})
}

// SendMove pushes a position update, rate limited to MoveInterval.
// Suppressed updates are dropped silently; the next allowed one carries
// the current pose, which supersedes everything dropped before it.
func (c *Client) SendMove(position [3]float64, yaw float64) error {
	if !c.moveGate.allow() {
		return nil
	}
	return c.send(protocol.TypeMove, protocol.Move{Position: position, Yaw: yaw})
}

// SendChat sends a chat message. Mentions are extracted from @name
// tokens in the text. The message is not echoed back; render it
// locally.
func (c *Client) SendChat(text string) error {
	if text == "" || len(text) > protocol.MaxChatLen {
		return fmt.Errorf("client: chat message length %d out of bounds", len(text))
	}
	return c.send(protocol.TypeChat, protocol.Chat{Text: text, Mentions: parseMentions(text)})
}

// SendStamp emits an emoji stamp. The server relays it to everyone
// including this client, so the local board is updated on the relay.
func (c *Client) SendStamp(glyph string) error {
	if glyph == "" {
		return errors.New("client: empty stamp glyph")
	}
	return c.send(protocol.TypeStamp, protocol.Stamp{Glyph: glyph})
}

// SendStroke finalizes a pen stroke: it is held locally and relayed to
// everyone else, expiring everywhere relative to the same timestamp.
func (c *Client) SendStroke(points []protocol.Point, color string) error {
	if !protocol.ValidStroke(points) {
		return fmt.Errorf("client: stroke with %d points rejected", len(points))
	}
	ts := time.Now().UnixMilli()
	c.strokes.Add(ephemeral.Stroke{OwnerID: c.id, Points: points, Color: color, Timestamp: ts})
	return c.send(protocol.TypeStroke, protocol.Stroke{Points: points, Color: color, Timestamp: ts})
}

// SetMicMuted reports the microphone switch to the server.
func (c *Client) SetMicMuted(muted bool) error {
	return c.send(protocol.TypeMicState, protocol.MicState{Muted: muted})
}

// SetSpeakerMuted reports the global speaker switch to the server.
func (c *Client) SetSpeakerMuted(muted bool) error {
	return c.send(protocol.TypeSpeakerState, protocol.SpeakerState{Muted: muted})
}

// SendVoiceSignal relays an SDP offer or answer to the holder of the
// addressed voice address.
func (c *Client) SendVoiceSignal(sig protocol.VoiceSignal) error {
	return c.send(protocol.TypeVoiceSignal, sig)
}

// Logout announces departure and closes the connection.
func (c *Client) Logout() error {
	err := c.send(protocol.TypeLogout, nil)
	c.close(nil)
	return err
}

// Close tears the connection down without a logout message. The server
// cleans up on transport close regardless.
func (c *Client) Close() {
	c.close(nil)
}

func (c *Client) send(t protocol.Type, payload any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

func (c *Client) close(err error) {
	c.doneOnce.Do(func() {
		c.closed.Store(true)
		c.doneErr = err
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
		close(c.done)
	})
}

// resolveLogin delivers the handshake result without blocking the read
// loop if the server repeats itself.
func resolveLogin(loginCh chan<- error, err error) {
	select {
	case loginCh <- err:
	default:
	}
}

// parseMentions extracts display names tagged with @name. Trailing
// punctuation is stripped so "hi @bob!" mentions bob.
func parseMentions(text string) []string {
	var mentions []string
	for _, field := range strings.Fields(text) {
		if !strings.HasPrefix(field, "@") {
			continue
		}
		name := strings.TrimFunc(field[1:], func(r rune) bool {
			return strings.ContainsRune(".,!?;:'\"()", r)
		})
		if name != "" {
			mentions = append(mentions, name)
		}
	}
	return mentions
}
