package ephemeral

import (
	"time"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// StrokeTTL is how long a finalized pen stroke stays visible.
const StrokeTTL = 5 * time.Second

// Stroke is a finalized pen stroke in shared document coordinates.
type Stroke struct {
	OwnerID string
	Points  []protocol.Point
	Color   string
	// Timestamp is the emitter-assigned creation time in Unix
	// milliseconds. Together with the owner it identifies the stroke on
	// every holder.
	Timestamp int64
}

type strokeKey struct {
	owner string
	ts    int64
}

// StrokeSet holds the currently visible strokes.
type StrokeSet struct {
	holder *Holder[strokeKey, Stroke]
}

// NewStrokeSet creates an empty stroke set.
func NewStrokeSet() *StrokeSet {
	return &StrokeSet{holder: NewHolder[strokeKey, Stroke](StrokeTTL)}
}

// SetClock replaces the set's clock. Test hook.
func (s *StrokeSet) SetClock(now func() time.Time) {
	s.holder.SetClock(now)
}

// Add stores a finalized stroke. Strokes with fewer than two points are
// discarded: an incomplete point sequence is never held or relayed.
// Reports whether the stroke was accepted.
func (s *StrokeSet) Add(stroke Stroke) bool {
	if !protocol.ValidStroke(stroke.Points) {
		return false
	}
	emittedAt := time.UnixMilli(stroke.Timestamp)
	s.holder.Put(strokeKey{owner: stroke.OwnerID, ts: stroke.Timestamp}, stroke, emittedAt)
	return true
}

// Active returns all currently visible strokes.
func (s *StrokeSet) Active() []Stroke {
	return s.holder.Active()
}

// Len returns the number of visible strokes.
func (s *StrokeSet) Len() int {
	return s.holder.Len()
}
