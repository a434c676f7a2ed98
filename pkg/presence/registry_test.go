package presence

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

func TestLoginAssignsDefaults(t *testing.T) {
	r := NewRegistry(nil)

	p, err := r.Login("alice")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.ID == "" {
		t.Error("Login should assign an ID")
	}
	if !p.MicMuted {
		t.Error("participants should join mic-muted")
	}
	if p.SpeakerMuted {
		t.Error("participants should join with speaker unmuted")
	}
	if p.Position != [3]float64{} {
		t.Errorf("Position = %v, want origin", p.Position)
	}
}

func TestLoginRejectsMissingName(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{"", "   "} {
		if _, err := r.Login(name); !errors.Is(err, ErrMissingName) {
			t.Errorf("Login(%q) error = %v, want ErrMissingName", name, err)
		}
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0 after rejected logins", r.Count())
	}
}

func TestLoginRejectsOverlongName(t *testing.T) {
	r := NewRegistry(nil)

	long := strings.Repeat("x", protocol.MaxDisplayNameLen+1)
	if _, err := r.Login(long); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("Login error = %v, want ErrNameTooLong", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestLoginRejectsDuplicateName(t *testing.T) {
	var broadcasts int
	r := NewRegistry(func(protocol.Snapshot) { broadcasts++ })

	if _, err := r.Login("alice"); err != nil {
		t.Fatalf("first Login: %v", err)
	}
	if _, err := r.Login("alice"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate Login error = %v, want ErrDuplicateName", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1 (duplicate never mutates)", r.Count())
	}
	if broadcasts != 1 {
		t.Errorf("broadcasts = %d, want 1 (rejection must not broadcast)", broadcasts)
	}
}

func TestRegistrySizeAfterDistinctLogins(t *testing.T) {
	r := NewRegistry(nil)
	const n = 25
	for i := 0; i < n; i++ {
		if _, err := r.Login(fmt.Sprintf("user-%d", i)); err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
	}
	if r.Count() != n {
		t.Errorf("Count = %d, want %d", r.Count(), n)
	}
}

func TestUpdateNotifiesObserver(t *testing.T) {
	var last protocol.Snapshot
	r := NewRegistry(func(s protocol.Snapshot) { last = s })

	p, err := r.Login("alice")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := r.SetVoiceAddr(p.ID, "va-1"); err != nil {
		t.Fatalf("SetVoiceAddr: %v", err)
	}
	if last.Participants[0].VoiceAddr != "va-1" {
		t.Errorf("snapshot VoiceAddr = %q, want %q", last.Participants[0].VoiceAddr, "va-1")
	}

	if err := r.SetPose(p.ID, [3]float64{1, 2, 3}, 0.7); err != nil {
		t.Fatalf("SetPose: %v", err)
	}
	if last.Participants[0].Position != [3]float64{1, 2, 3} {
		t.Errorf("snapshot Position = %v, want [1 2 3]", last.Participants[0].Position)
	}
	if last.Participants[0].Yaw != 0.7 {
		t.Errorf("snapshot Yaw = %v, want 0.7", last.Participants[0].Yaw)
	}

	if err := r.SetMicMuted(p.ID, false); err != nil {
		t.Fatalf("SetMicMuted: %v", err)
	}
	if last.Participants[0].MicMuted {
		t.Error("snapshot MicMuted should be false after unmute")
	}

	if err := r.SetSpeakerMuted(p.ID, true); err != nil {
		t.Fatalf("SetSpeakerMuted: %v", err)
	}
	if !last.Participants[0].SpeakerMuted {
		t.Error("snapshot SpeakerMuted should be true")
	}
}

func TestUpdateUnknownParticipant(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.SetMicMuted("nope", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetMicMuted error = %v, want ErrNotFound", err)
	}
}

func TestRemoveBroadcastsOnce(t *testing.T) {
	var broadcasts int
	r := NewRegistry(func(protocol.Snapshot) { broadcasts++ })

	p, _ := r.Login("alice")
	broadcasts = 0

	r.Remove(p.ID)
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
	if broadcasts != 1 {
		t.Errorf("broadcasts = %d, want 1", broadcasts)
	}

	// Second removal is a no-op: no broadcast, no panic.
	r.Remove(p.ID)
	if broadcasts != 1 {
		t.Errorf("broadcasts = %d after double remove, want 1", broadcasts)
	}
}

func TestSnapshotJoinOrder(t *testing.T) {
	r := NewRegistry(nil)
	a, _ := r.Login("alice")
	b, _ := r.Login("bob")
	c, _ := r.Login("carol")

	r.Remove(b.ID)
	d, _ := r.Login("dave")

	snap := r.Snapshot()
	want := []string{a.ID, c.ID, d.ID}
	if len(snap.Participants) != len(want) {
		t.Fatalf("snapshot size = %d, want %d", len(snap.Participants), len(want))
	}
	for i, id := range want {
		if snap.Participants[i].ID != id {
			t.Errorf("snapshot[%d].ID = %q, want %q", i, snap.Participants[i].ID, id)
		}
	}
}

func TestNameFreedAfterRemove(t *testing.T) {
	r := NewRegistry(nil)
	p, _ := r.Login("alice")
	r.Remove(p.ID)

	if _, err := r.Login("alice"); err != nil {
		t.Errorf("Login after remove: %v, want success", err)
	}
}
