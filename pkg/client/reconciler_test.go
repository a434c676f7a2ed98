package client

import (
	"math"
	"testing"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

type recordingRenderer struct {
	added   []string
	removed []string
}

func (r *recordingRenderer) EntityAdded(e Entity)    { r.added = append(r.added, e.ID) }
func (r *recordingRenderer) EntityRemoved(id string) { r.removed = append(r.removed, id) }

func snapshotOf(ps ...protocol.Participant) protocol.Snapshot {
	return protocol.Snapshot{Participants: ps}
}

func TestApplyCreatesUpdatesDestroys(t *testing.T) {
	rend := &recordingRenderer{}
	r := NewReconciler(rend)

	r.Apply(snapshotOf(
		protocol.Participant{ID: "a", DisplayName: "alice", Position: [3]float64{1, 0, 0}},
		protocol.Participant{ID: "b", DisplayName: "bob"},
	), "self")

	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	if len(rend.added) != 2 {
		t.Fatalf("added = %v", rend.added)
	}

	// New entities display at the authoritative pose, no glide-in.
	e, ok := r.Get("a")
	if !ok {
		t.Fatal("entity a missing")
	}
	if e.Position != [3]float64{1, 0, 0} || e.Target != e.Position {
		t.Fatalf("entity a = %+v", e)
	}

	// bob vanishes, alice moves.
	r.Apply(snapshotOf(
		protocol.Participant{ID: "a", DisplayName: "alice", Position: [3]float64{2, 0, 0}, MicMuted: true},
	), "self")

	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	if len(rend.removed) != 1 || rend.removed[0] != "b" {
		t.Fatalf("removed = %v", rend.removed)
	}
	e, _ = r.Get("a")
	if e.Target != [3]float64{2, 0, 0} {
		t.Fatalf("target = %v", e.Target)
	}
	if e.Position != [3]float64{1, 0, 0} {
		t.Fatalf("display jumped to %v, want smoothing from old pose", e.Position)
	}
	if !e.MicMuted {
		t.Fatal("mic state not updated")
	}
}

type fakeVoiceStatus struct {
	connected map[string]bool
}

func (f *fakeVoiceStatus) Connected(addr string) bool { return f.connected[addr] }

func TestVoiceConnectedDerivedFromLinkState(t *testing.T) {
	vs := &fakeVoiceStatus{connected: map[string]bool{}}
	r := NewReconciler(nil)
	r.SetVoiceStatus(vs)

	r.Apply(snapshotOf(
		protocol.Participant{ID: "a", VoiceAddr: "voice-a"},
		protocol.Participant{ID: "b"}, // no voice address
	), "self")

	e, _ := r.Get("a")
	if e.VoiceConnected {
		t.Fatal("flag set before any link exists")
	}

	// Links connect between snapshots; Step must pick it up.
	vs.connected["voice-a"] = true
	r.Step()
	e, _ = r.Get("a")
	if !e.VoiceConnected {
		t.Fatal("flag not derived on Step")
	}
	e, _ = r.Get("b")
	if e.VoiceConnected {
		t.Fatal("flag set without a voice address")
	}

	// Link drops, next snapshot clears the flag.
	vs.connected["voice-a"] = false
	r.Apply(snapshotOf(
		protocol.Participant{ID: "a", VoiceAddr: "voice-a"},
		protocol.Participant{ID: "b"},
	), "self")
	e, _ = r.Get("a")
	if e.VoiceConnected {
		t.Fatal("flag not cleared on Apply")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	rend := &recordingRenderer{}
	r := NewReconciler(rend)
	snap := snapshotOf(protocol.Participant{ID: "a", DisplayName: "alice"})

	r.Apply(snap, "self")
	r.Apply(snap, "self")
	r.Apply(snap, "self")

	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	if len(rend.added) != 1 || len(rend.removed) != 0 {
		t.Fatalf("added = %v removed = %v, want one add and no removes", rend.added, rend.removed)
	}
}

func TestApplyExcludesSelf(t *testing.T) {
	r := NewReconciler(nil)
	r.Apply(snapshotOf(
		protocol.Participant{ID: "self", DisplayName: "me"},
		protocol.Participant{ID: "a", DisplayName: "alice"},
	), "self")

	if r.Len() != 1 {
		t.Fatalf("len = %d, want self excluded", r.Len())
	}
	if _, ok := r.Get("self"); ok {
		t.Fatal("self has a shadow entity")
	}
}

func TestStepConvergesToTarget(t *testing.T) {
	r := NewReconciler(nil)
	r.Apply(snapshotOf(protocol.Participant{ID: "a"}), "self")
	r.Apply(snapshotOf(protocol.Participant{ID: "a", Position: [3]float64{10, 0, -10}, Yaw: 1.0}), "self")

	prev := math.Inf(1)
	for i := 0; i < 200; i++ {
		r.Step()
		e, _ := r.Get("a")
		d := distance(e.Position, e.Target)
		if d > prev+1e-9 {
			t.Fatalf("distance grew at step %d: %v > %v", i, d, prev)
		}
		prev = d
	}

	e, _ := r.Get("a")
	if distance(e.Position, e.Target) > 1e-6 {
		t.Fatalf("did not converge: %v vs %v", e.Position, e.Target)
	}
	if math.Abs(e.Yaw-1.0) > 1e-6 {
		t.Fatalf("yaw = %v, want 1.0", e.Yaw)
	}
}

func TestStepSingleTickFraction(t *testing.T) {
	r := NewReconciler(nil)
	r.Apply(snapshotOf(protocol.Participant{ID: "a"}), "self")
	r.Apply(snapshotOf(protocol.Participant{ID: "a", Position: [3]float64{10, 0, 0}}), "self")

	r.Step()
	e, _ := r.Get("a")
	if math.Abs(e.Position[0]-1.0) > 1e-9 {
		t.Fatalf("x after one tick = %v, want 1.0", e.Position[0])
	}
}

func TestYawTakesShortestArc(t *testing.T) {
	// From just under +π to just under -π: the short way crosses the
	// ±π seam, not zero.
	cur := math.Pi - 0.1
	target := -math.Pi + 0.1
	next := stepYaw(cur, target)
	if next <= cur && next > -math.Pi {
		t.Fatalf("yaw moved the long way: %v -> %v", cur, next)
	}

	// The result stays normalized.
	if next <= -math.Pi || next > math.Pi {
		t.Fatalf("yaw %v outside (-π, π]", next)
	}

	// Symmetric case.
	next = stepYaw(-math.Pi+0.1, math.Pi-0.1)
	if next >= -math.Pi+0.1 && next < math.Pi {
		t.Fatalf("yaw moved the long way: %v", next)
	}
}

func TestYawIdenticalAnglesStable(t *testing.T) {
	for _, yaw := range []float64{0, 1.5, -1.5, math.Pi, -math.Pi + 0.001} {
		if got := stepYaw(yaw, yaw); math.Abs(got-yaw) > 1e-9 {
			t.Fatalf("stepYaw(%v, %v) = %v", yaw, yaw, got)
		}
	}
}

func TestSnapOnLargeDisplacement(t *testing.T) {
	r := NewReconciler(nil)
	r.Apply(snapshotOf(protocol.Participant{ID: "a"}), "self")
	r.Apply(snapshotOf(protocol.Participant{ID: "a", Position: [3]float64{100, 0, 0}}), "self")

	r.Step()
	e, _ := r.Get("a")
	if e.Position != [3]float64{100, 0, 0} {
		t.Fatalf("position = %v, want teleport on large displacement", e.Position)
	}
}
