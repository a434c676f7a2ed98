package voice

import (
	"context"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// Signaler delivers SDP offers and answers to the holder of a remote
// voice address. Production wires this to the presence client's signal
// relay; tests use an in-process pair.
type Signaler interface {
	Send(ctx context.Context, sig protocol.VoiceSignal) error
}

// SignalerFunc adapts a function to the Signaler interface.
type SignalerFunc func(ctx context.Context, sig protocol.VoiceSignal) error

func (f SignalerFunc) Send(ctx context.Context, sig protocol.VoiceSignal) error {
	return f(ctx, sig)
}
