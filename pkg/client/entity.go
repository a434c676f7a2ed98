package client

import "math"

// smoothing is the fraction of the remaining distance to the
// authoritative target covered per interpolation tick.
const smoothing = 0.1

// snapDistance is the displayed-to-target distance beyond which an
// entity teleports instead of gliding. Covers respawns and long drops
// between snapshots.
const snapDistance = 30.0

// Entity is the local shadow of one remote participant. Position and
// Yaw are what the render layer should display; Target and TargetYaw
// are the latest authoritative values from the server, approached a
// fraction per tick.
type Entity struct {
	ID           string
	DisplayName  string
	VoiceAddr    string
	MicMuted     bool
	SpeakerMuted bool

	// VoiceConnected is derived: true while the local voice mesh holds
	// a live link to this entity's VoiceAddr.
	VoiceConnected bool

	Position [3]float64
	Yaw      float64

	Target    [3]float64
	TargetYaw float64
}

// step advances the displayed pose one tick toward the target.
func (e *Entity) step() {
	if distance(e.Position, e.Target) > snapDistance {
		e.Position = e.Target
		e.Yaw = e.TargetYaw
		return
	}
	for i := range e.Position {
		e.Position[i] += (e.Target[i] - e.Position[i]) * smoothing
	}
	e.Yaw = stepYaw(e.Yaw, e.TargetYaw)
}

// stepYaw moves cur toward target along the shortest arc. The result
// stays in (-π, π].
func stepYaw(cur, target float64) float64 {
	d := math.Remainder(target-cur, 2*math.Pi)
	if d == -math.Pi {
		d = math.Pi
	}
	yaw := cur + d*smoothing
	yaw = math.Remainder(yaw, 2*math.Pi)
	if yaw == -math.Pi {
		yaw = math.Pi
	}
	return yaw
}

func distance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
