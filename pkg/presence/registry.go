package presence

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// Participant is one connected participant's authoritative record. Only
// the owning connection's messages may mutate it.
type Participant struct {
	ID           string
	DisplayName  string
	VoiceAddr    string // empty until the client's voice subsystem is ready
	MicMuted     bool
	SpeakerMuted bool
	Position     [3]float64
	Yaw          float64
}

// Observer receives the full registry snapshot after every successful
// mutation. It is invoked synchronously on the mutating goroutine.
type Observer func(protocol.Snapshot)

// Registry is the authoritative participant set. Mutations are expected
// to arrive from a single goroutine; the internal lock only makes
// concurrent snapshot reads (admin surface, metrics) safe.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Participant
	order    []string // join order, for stable snapshots
	observer Observer
}

// NewRegistry creates an empty registry. The observer may be nil; set it
// later with SetObserver before serving traffic.
func NewRegistry(observer Observer) *Registry {
	return &Registry{
		byID:     make(map[string]*Participant),
		observer: observer,
	}
}

// SetObserver installs the broadcast observer.
func (r *Registry) SetObserver(observer Observer) {
	r.mu.Lock()
	r.observer = observer
	r.mu.Unlock()
}

// Login admits a participant under displayName. The name must be
// non-empty and unique among currently connected participants; a
// rejected login leaves the registry untouched and triggers no
// broadcast.
func (r *Registry) Login(displayName string) (Participant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Participant{}, ErrMissingName
	}
	if len(displayName) > protocol.MaxDisplayNameLen {
		return Participant{}, ErrNameTooLong
	}

	r.mu.Lock()
	for _, p := range r.byID {
		if p.DisplayName == displayName {
			r.mu.Unlock()
			return Participant{}, ErrDuplicateName
		}
	}

	p := &Participant{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		MicMuted:    true, // participants join muted
	}
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	record := *p
	r.mu.Unlock()

	r.notify()
	return record, nil
}

// SetVoiceAddr registers the participant's voice-mesh address.
func (r *Registry) SetVoiceAddr(id, addr string) error {
	return r.update(id, func(p *Participant) { p.VoiceAddr = addr })
}

// SetPose updates the participant's position and yaw.
func (r *Registry) SetPose(id string, position [3]float64, yaw float64) error {
	return r.update(id, func(p *Participant) {
		p.Position = position
		p.Yaw = yaw
	})
}

// SetMicMuted updates the participant's microphone mute flag.
func (r *Registry) SetMicMuted(id string, muted bool) error {
	return r.update(id, func(p *Participant) { p.MicMuted = muted })
}

// SetSpeakerMuted updates the participant's global speaker mute flag.
func (r *Registry) SetSpeakerMuted(id string, muted bool) error {
	return r.update(id, func(p *Participant) { p.SpeakerMuted = muted })
}

// Remove deletes a participant. Removing an unknown ID is a no-op with
// no broadcast, so logout followed by transport disconnect stays
// idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	if _, ok := r.byID[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	r.order = lo.Without(r.order, id)
	r.mu.Unlock()

	r.notify()
}

// Get returns a copy of the participant's record.
func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Count returns the number of connected participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns the complete participant set in join order, in wire
// form.
func (r *Registry) Snapshot() protocol.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() protocol.Snapshot {
	participants := lo.FilterMap(r.order, func(id string, _ int) (protocol.Participant, bool) {
		p, ok := r.byID[id]
		if !ok {
			return protocol.Participant{}, false
		}
		return protocol.Participant{
			ID:           p.ID,
			DisplayName:  p.DisplayName,
			VoiceAddr:    p.VoiceAddr,
			MicMuted:     p.MicMuted,
			SpeakerMuted: p.SpeakerMuted,
			Position:     p.Position,
			Yaw:          p.Yaw,
		}, true
	})
	return protocol.Snapshot{Participants: participants}
}

// update applies fn to the participant's record and notifies the
// observer. Field updates are keyed by the caller's own connection ID,
// so no participant can mutate another's record.
func (r *Registry) update(id string, fn func(*Participant)) error {
	r.mu.Lock()
	p, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	fn(p)
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *Registry) notify() {
	r.mu.RLock()
	observer := r.observer
	snap := r.snapshotLocked()
	r.mu.RUnlock()

	if observer != nil {
		observer(snap)
	}
}
