package voice

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Source provides the local outgoing audio track. The same track is
// attached to every link in the mesh.
type Source interface {
	Track() webrtc.TrackLocal
}

// SampleSource is a Source fed with encoded audio samples from a
// capture pipeline. The capture side calls Write once per Opus frame.
type SampleSource struct {
	track *webrtc.TrackLocalStaticSample
}

// NewSampleSource creates an Opus sample source. id distinguishes
// multiple local tracks; "audio" is fine for a single microphone.
func NewSampleSource(id string) (*SampleSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, id, "roomverse")
	if err != nil {
		return nil, fmt.Errorf("voice: creating local track: %w", err)
	}
	return &SampleSource{track: track}, nil
}

// Track returns the underlying local track.
func (s *SampleSource) Track() webrtc.TrackLocal {
	return s.track
}

// Write pushes one encoded audio sample onto the track. Samples written
// while the mesh is mic-muted are accepted but never leave the process;
// the per-link senders have no track attached.
func (s *SampleSource) Write(sample media.Sample) error {
	return s.track.WriteSample(sample)
}
