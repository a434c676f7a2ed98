package client

import (
	"sync"

	"github.com/samber/lo"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// Renderer receives shadow entity lifecycle callbacks. Implementations
// attach and detach whatever scene objects represent a participant;
// nil callbacks are allowed one by one through NoopRenderer embedding.
type Renderer interface {
	// EntityAdded fires when a participant first appears in a snapshot.
	EntityAdded(e Entity)

	// EntityRemoved fires when a participant vanishes from a snapshot.
	EntityRemoved(id string)
}

// NoopRenderer ignores all callbacks. Embed it to implement only part
// of Renderer.
type NoopRenderer struct{}

func (NoopRenderer) EntityAdded(Entity)   {}
func (NoopRenderer) EntityRemoved(string) {}

// Reconciler maintains the shadow entity set from full snapshots.
// Applying the same snapshot twice is a no-op; a participant missing
// from a snapshot is destroyed even if its departure event was lost.
type Reconciler struct {
	mu          sync.Mutex
	entities    map[string]*Entity
	renderer    Renderer
	voiceStatus VoiceStatus
}

// NewReconciler creates an empty reconciler. renderer may be nil.
func NewReconciler(renderer Renderer) *Reconciler {
	if renderer == nil {
		renderer = NoopRenderer{}
	}
	return &Reconciler{
		entities: make(map[string]*Entity),
		renderer: renderer,
	}
}

// SetVoiceStatus installs the source for each shadow's VoiceConnected
// flag. Without one the flag stays false.
func (r *Reconciler) SetVoiceStatus(vs VoiceStatus) {
	r.mu.Lock()
	r.voiceStatus = vs
	r.mu.Unlock()
}

// Apply reconciles the shadow set against a full snapshot. selfID is
// skipped; the local participant is not shadowed.
func (r *Reconciler) Apply(snap protocol.Snapshot, selfID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(snap.Participants))
	for _, p := range snap.Participants {
		if p.ID == selfID {
			continue
		}
		seen[p.ID] = true

		e, ok := r.entities[p.ID]
		if !ok {
			// First sighting: display directly at the authoritative
			// pose, no glide in from the origin.
			e = &Entity{
				ID:        p.ID,
				Position:  p.Position,
				Yaw:       p.Yaw,
				Target:    p.Position,
				TargetYaw: p.Yaw,
			}
			r.entities[p.ID] = e
			r.updateFrom(e, p)
			r.renderer.EntityAdded(*e)
			continue
		}
		r.updateFrom(e, p)
	}

	for id := range r.entities {
		if !seen[id] {
			delete(r.entities, id)
			r.renderer.EntityRemoved(id)
		}
	}
}

// updateFrom copies the authoritative fields onto the shadow.
func (r *Reconciler) updateFrom(e *Entity, p protocol.Participant) {
	e.DisplayName = p.DisplayName
	e.VoiceAddr = p.VoiceAddr
	e.MicMuted = p.MicMuted
	e.SpeakerMuted = p.SpeakerMuted
	e.Target = p.Position
	e.TargetYaw = p.Yaw
	e.VoiceConnected = r.voiceConnected(e.VoiceAddr)
}

// voiceConnected resolves the derived link flag. Caller holds r.mu.
func (r *Reconciler) voiceConnected(addr string) bool {
	if r.voiceStatus == nil || addr == "" {
		return false
	}
	return r.voiceStatus.Connected(addr)
}

// Step advances every shadow one interpolation tick. Call it once per
// render frame. Link state moves independently of snapshots, so the
// VoiceConnected flag is refreshed here too.
func (r *Reconciler) Step() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		e.step()
		e.VoiceConnected = r.voiceConnected(e.VoiceAddr)
	}
}

// Entities returns a copy of the current shadow set.
func (r *Reconciler) Entities() []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(lo.Values(r.entities), func(e *Entity, _ int) Entity { return *e })
}

// Get returns a copy of one shadow entity.
func (r *Reconciler) Get(id string) (Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Len reports the shadow count.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}
