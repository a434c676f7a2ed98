package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before sending the SDP.
const iceGatherTimeout = 15 * time.Second

// ErrMeshClosed is returned from operations on a closed mesh.
var ErrMeshClosed = errors.New("voice: mesh closed")

// Config configures a Mesh. LocalAddr and Signaler are required.
type Config struct {
	// LocalAddr is this participant's voice address, as announced to
	// the presence server.
	LocalAddr string

	// Signaler delivers offers and answers to remote addresses.
	Signaler Signaler

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ICEServers configure STUN/TURN. Empty works on a LAN.
	ICEServers []webrtc.ICEServer

	// Source provides the outgoing audio track. Nil makes every link
	// receive-only.
	Source Source

	// Sink receives remote audio. Nil discards it.
	Sink Sink
}

// Mesh converges the set of per-peer links on whatever address set
// Reconcile was last given. Links are created for new addresses,
// answered for inbound offers, and closed for departed addresses.
//
// Between any two addresses exactly one side initiates: the one whose
// address sorts lower. Both sides reconcile from the same snapshots, so
// every pair converges to a single link without offer glare.
type Mesh struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	links map[string]*link

	micMuted     atomic.Bool
	speakerMuted atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMesh creates an empty mesh.
func NewMesh(config Config) (*Mesh, error) {
	if config.LocalAddr == "" {
		return nil, errors.New("voice: LocalAddr is required")
	}
	if config.Signaler == nil {
		return nil, errors.New("voice: Signaler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mesh{
		config: config,
		logger: logger.With("component", "voice", "local_addr", config.LocalAddr),
		links:  make(map[string]*link),
		closed: make(chan struct{}),
	}, nil
}

// LocalAddr returns this mesh's announced voice address.
func (m *Mesh) LocalAddr() string {
	return m.config.LocalAddr
}

// Reconcile converges the link set on addrs: missing links are dialed
// (by the initiating side), links to departed addresses are closed.
// Safe to call after every snapshot; a link that already exists for an
// address is left alone whatever its state.
func (m *Mesh) Reconcile(addrs []string) {
	select {
	case <-m.closed:
		return
	default:
	}

	wanted := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		if addr != "" && addr != m.config.LocalAddr {
			wanted[addr] = true
		}
	}

	var dial []string
	m.mu.Lock()
	for addr := range wanted {
		if _, ok := m.links[addr]; ok {
			continue
		}
		if m.initiatesTo(addr) {
			dial = append(dial, addr)
		}
		// The other side initiates; our link appears when its offer
		// arrives.
	}
	for addr, l := range m.links {
		if !wanted[addr] {
			delete(m.links, addr)
			l.close()
			m.logger.Info("voice link closed", "peer", addr, "reason", "departed")
		}
	}
	m.mu.Unlock()

	for _, addr := range dial {
		go m.dial(addr)
	}
}

// initiatesTo reports whether this side opens the link to addr. Exactly
// one side of every pair does.
func (m *Mesh) initiatesTo(addr string) bool {
	return m.config.LocalAddr < addr
}

// HandleSignal processes an inbound offer or answer. Wire it to the
// presence client's voice-signal callback.
func (m *Mesh) HandleSignal(sig protocol.VoiceSignal) {
	switch sig.Kind {
	case protocol.SignalOffer:
		go m.answer(sig)
	case protocol.SignalAnswer:
		m.acceptAnswer(sig)
	default:
		m.logger.Warn("ignoring signal", "kind", sig.Kind, "from", sig.From)
	}
}

// States returns the current link states keyed by remote address.
func (m *Mesh) States() map[string]LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]LinkState, len(m.links))
	for addr, l := range m.links {
		states[addr] = l.state
	}
	return states
}

// Connected reports whether a live link to addr currently carries
// media.
func (m *Mesh) Connected(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[addr]
	return ok && l.state == StateConnected
}

// Established returns a channel closed when the link to addr first
// carries media, or nil if no such link exists.
func (m *Mesh) Established(addr string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[addr]
	if !ok {
		return nil
	}
	return l.established
}

// SetMicMuted attaches or detaches the outgoing track on every link.
// While muted nothing leaves the process; the links stay up.
func (m *Mesh) SetMicMuted(muted bool) {
	m.micMuted.Store(muted)
	if m.config.Source == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, l := range m.links {
		if l.sender == nil {
			continue
		}
		var err error
		if muted {
			err = l.sender.ReplaceTrack(nil)
		} else {
			err = l.sender.ReplaceTrack(m.config.Source.Track())
		}
		if err != nil {
			m.logger.Warn("updating outgoing track", "peer", addr, "error", err)
		}
	}
}

// SetSpeakerMuted gates delivery of all remote audio to the sink. The
// inbound tracks keep draining so the links stay healthy.
func (m *Mesh) SetSpeakerMuted(muted bool) {
	m.speakerMuted.Store(muted)
}

// SetSpeakerGain forwards the playback volume to the sink. Sinks
// without gain control ignore the call.
func (m *Mesh) SetSpeakerGain(gain float64) {
	if gs, ok := m.config.Sink.(GainSink); ok {
		gs.SetGain(gain)
	}
}

// Close tears down every link.
func (m *Mesh) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.mu.Lock()
		defer m.mu.Unlock()
		for addr, l := range m.links {
			delete(m.links, addr)
			l.close()
		}
	})
}

// dial establishes the initiating side of a link: offer, gather, send,
// then wait for the answer to arrive through HandleSignal.
func (m *Mesh) dial(addr string) {
	m.mu.Lock()
	if _, ok := m.links[addr]; ok {
		m.mu.Unlock()
		return
	}
	l, err := m.newLink(addr, true)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("creating link", "peer", addr, "error", err)
		return
	}
	m.links[addr] = l
	m.mu.Unlock()

	sdp, err := m.localDescription(l.pc, offerDescription)
	if err != nil {
		m.logger.Error("negotiating", "peer", addr, "error", err)
		m.dropLink(addr, l)
		return
	}

	err = m.config.Signaler.Send(context.Background(), protocol.VoiceSignal{
		From: m.config.LocalAddr,
		To:   addr,
		Kind: protocol.SignalOffer,
		SDP:  sdp,
	})
	if err != nil {
		m.logger.Error("sending offer", "peer", addr, "error", err)
		m.dropLink(addr, l)
		return
	}
	m.logger.Info("voice offer sent", "peer", addr)
}

// answer establishes the accepting side of a link from an inbound
// offer. An existing link to the same address is replaced; the peer
// re-offering means its old end is gone.
func (m *Mesh) answer(sig protocol.VoiceSignal) {
	addr := sig.From

	m.mu.Lock()
	if old, ok := m.links[addr]; ok {
		delete(m.links, addr)
		old.close()
		m.logger.Info("voice link closed", "peer", addr, "reason", "replaced by new offer")
	}
	l, err := m.newLink(addr, false)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("creating link", "peer", addr, "error", err)
		return
	}
	m.links[addr] = l
	m.mu.Unlock()

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		m.logger.Error("setting remote offer", "peer", addr, "error", err)
		m.dropLink(addr, l)
		return
	}

	sdp, err := m.localDescription(l.pc, answerDescription)
	if err != nil {
		m.logger.Error("negotiating", "peer", addr, "error", err)
		m.dropLink(addr, l)
		return
	}

	err = m.config.Signaler.Send(context.Background(), protocol.VoiceSignal{
		From: m.config.LocalAddr,
		To:   addr,
		Kind: protocol.SignalAnswer,
		SDP:  sdp,
	})
	if err != nil {
		m.logger.Error("sending answer", "peer", addr, "error", err)
		m.dropLink(addr, l)
		return
	}
	m.logger.Info("voice offer answered", "peer", addr)
}

// acceptAnswer completes an initiated link.
func (m *Mesh) acceptAnswer(sig protocol.VoiceSignal) {
	m.mu.Lock()
	l, ok := m.links[sig.From]
	m.mu.Unlock()
	if !ok || !l.initiator {
		m.logger.Warn("answer for unknown link", "from", sig.From)
		return
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		m.logger.Error("setting remote answer", "peer", sig.From, "error", err)
		m.dropLink(sig.From, l)
	}
}

// newLink builds the PeerConnection for one remote address. Caller
// holds m.mu.
func (m *Mesh) newLink(addr string, initiator bool) (*link, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("voice: creating peer connection: %w", err)
	}

	l := &link{
		addr:        addr,
		pc:          pc,
		state:       StateConnecting,
		initiator:   initiator,
		established: make(chan struct{}),
	}

	if m.config.Source != nil {
		sender, err := pc.AddTrack(m.config.Source.Track())
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("voice: attaching local track: %w", err)
		}
		l.sender = sender
		if m.micMuted.Load() {
			if err := sender.ReplaceTrack(nil); err != nil {
				m.logger.Warn("starting muted", "peer", addr, "error", err)
			}
		}
	} else {
		// No source still needs an audio section in the SDP so the
		// remote side can send.
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("voice: adding audio transceiver: %w", err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go m.readTrack(addr, track)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		m.handleICEState(addr, l, state)
	})

	return l, nil
}

type descriptionKind int

const (
	offerDescription descriptionKind = iota
	answerDescription
)

// localDescription creates the local SDP, waits for ICE gathering to
// complete, and returns the full description. Vanilla ICE: one
// round-trip, no trickle.
func (m *Mesh) localDescription(pc *webrtc.PeerConnection, kind descriptionKind) (string, error) {
	var (
		desc webrtc.SessionDescription
		err  error
	)
	if kind == offerDescription {
		desc, err = pc.CreateOffer(nil)
	} else {
		desc, err = pc.CreateAnswer(nil)
	}
	if err != nil {
		return "", fmt.Errorf("voice: creating description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("voice: setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("voice: ICE gathering timed out after %s", iceGatherTimeout)
	case <-m.closed:
		return "", ErrMeshClosed
	}
	return pc.LocalDescription().SDP, nil
}

// handleICEState tracks link lifecycle off pion's ICE callbacks.
func (m *Mesh) handleICEState(addr string, l *link, state webrtc.ICEConnectionState) {
	m.logger.Info("ICE state change", "peer", addr, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		m.mu.Lock()
		if m.links[addr] == l {
			l.state = StateConnected
		}
		m.mu.Unlock()
		l.markEstablished()

	case webrtc.ICEConnectionStateFailed:
		// Drop the link; the next reconciliation pass re-dials while
		// the peer is still present.
		m.logger.Warn("voice link failed", "peer", addr)
		m.dropLink(addr, l)

	case webrtc.ICEConnectionStateClosed:
		m.mu.Lock()
		if m.links[addr] == l {
			delete(m.links, addr)
		}
		m.mu.Unlock()
	}
}

// dropLink closes and forgets a link if it is still the current one for
// its address.
func (m *Mesh) dropLink(addr string, l *link) {
	m.mu.Lock()
	if m.links[addr] == l {
		delete(m.links, addr)
	}
	l.state = StateClosed
	m.mu.Unlock()
	l.pc.Close()
}

// readTrack drains one inbound track, forwarding to the sink unless the
// speaker is muted.
func (m *Mesh) readTrack(addr string, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if m.speakerMuted.Load() || m.config.Sink == nil {
			continue
		}
		m.config.Sink.PlayRTP(addr, pkt)
	}
}
