package voice

import "github.com/pion/rtp"

// Sink receives remote audio. The mesh reads RTP off every inbound
// track and forwards packets here unless the speaker is muted; the
// implementation decodes and plays them. Playback volume belongs to
// the sink, where the decoded samples are: the mesh never touches the
// encoded payload, it only gates delivery.
type Sink interface {
	PlayRTP(remoteAddr string, pkt *rtp.Packet)
}

// GainSink is a Sink with adjustable playback volume. Gain is a linear
// multiplier: 1 is unity, 0 silences playback without touching the
// links.
type GainSink interface {
	Sink
	SetGain(gain float64)
}

// NullSink discards all audio. Used when the mesh only needs
// connectivity, e.g. headless joins and tests.
type NullSink struct{}

func (NullSink) PlayRTP(string, *rtp.Packet) {}
