package voice

import "github.com/pion/webrtc/v4"

// LinkState is the lifecycle of one mesh link. An address with no link
// at all is simply absent from the mesh.
type LinkState int

const (
	// StateConnecting covers signaling and ICE: the link exists but no
	// media flows yet.
	StateConnecting LinkState = iota

	// StateConnected means ICE reached Connected or Completed and audio
	// can flow both ways.
	StateConnected

	// StateClosed means the link was torn down. Closed links leave the
	// mesh; the state exists only transiently.
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// link is one PeerConnection to a remote voice address. Fields are
// protected by Mesh.mu.
type link struct {
	addr      string
	pc        *webrtc.PeerConnection
	sender    *webrtc.RTPSender
	state     LinkState
	initiator bool

	// established is closed when ICE first reaches Connected/Completed.
	established chan struct{}
}

func (l *link) markEstablished() {
	select {
	case <-l.established:
	default:
		close(l.established)
	}
}

func (l *link) close() {
	l.state = StateClosed
	l.pc.Close()
}
