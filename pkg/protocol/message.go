package protocol

import "time"

// Type identifies the payload carried by an Envelope.
type Type string

// Client-to-server message types.
const (
	TypeLogin        Type = "login"
	TypeVoiceReady   Type = "voiceReady"
	TypeMove         Type = "move"
	TypeMicState     Type = "micState"
	TypeSpeakerState Type = "speakerState"
	TypeChat         Type = "chat"
	TypeStamp        Type = "stamp"
	TypeStroke       Type = "stroke"
	TypeVoiceSignal  Type = "voiceSignal"
	TypeAlive        Type = "alive"
	TypeLogout       Type = "logout"
)

// Server-to-client message types.
const (
	TypeLoginSuccess Type = "loginSuccess"
	TypeLoginError   Type = "loginError"
	TypeSnapshot     Type = "snapshot"
	TypeChatRelay    Type = "chatRelay"
	TypeStampRelay   Type = "stampRelay"
	TypeStrokeRelay  Type = "strokeRelay"
	TypeAliveCheck   Type = "aliveCheck"
	TypeKick         Type = "kick"
)

// Participant is the public state of one connected participant as carried
// inside a Snapshot. The server is authoritative for every field.
type Participant struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	VoiceAddr    string     `json:"voiceAddr,omitempty"`
	MicMuted     bool       `json:"micMuted"`
	SpeakerMuted bool       `json:"speakerMuted"`
	Position     [3]float64 `json:"position"`
	Yaw          float64    `json:"yaw"`
}

// Snapshot is the complete participant set, pushed to every connected
// client after each registry mutation. Participants appear in join order.
type Snapshot struct {
	Participants []Participant `json:"participants"`
}

// LoginRequest asks the server to admit a participant under a display
// name. The name must be unique among currently connected participants.
type LoginRequest struct {
	DisplayName string `json:"displayName"`
}

// LoginSuccess confirms admission and carries the assigned participant ID.
type LoginSuccess struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// LoginError reports a rejected login to the requesting client only.
type LoginError struct {
	Message string `json:"message"`
}

// VoiceReady registers the client's voice-mesh address once its voice
// subsystem has finished bootstrapping.
type VoiceReady struct {
	VoiceAddr string `json:"voiceAddr"`
}

// Move updates the sender's position and yaw. Clients throttle these to a
// fixed rate independent of their render rate.
type Move struct {
	Position [3]float64 `json:"position"`
	Yaw      float64    `json:"yaw"`
}

// MicState reports the sender's microphone mute switch.
type MicState struct {
	Muted bool `json:"muted"`
}

// SpeakerState reports the sender's global speaker mute switch.
type SpeakerState struct {
	Muted bool `json:"muted"`
}

// Chat carries an outbound chat message. Mentions lists display names the
// sender tagged with @name.
type Chat struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

// ChatRelay is a chat message as delivered to receivers. The sender does
// not receive its own relay; it renders the message locally on send.
type ChatRelay struct {
	SenderID    string    `json:"senderId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	Mentions    []string  `json:"mentions,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

// Stamp emits an emoji glyph shown above the sender's avatar.
type Stamp struct {
	Glyph string `json:"glyph"`
}

// StampRelay is a stamp as delivered to all clients, including the sender.
type StampRelay struct {
	OwnerID     string `json:"ownerId"`
	DisplayName string `json:"displayName"`
	Glyph       string `json:"glyph"`
}

// Point is a 2D coordinate in the shared document space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is a finalized pen stroke. Timestamp is assigned by the emitter
// at creation and identifies the stroke for local expiry on every holder.
type Stroke struct {
	Points    []Point `json:"points"`
	Color     string  `json:"color"`
	Timestamp int64   `json:"timestamp"`
}

// StrokeRelay is a stroke as delivered to receivers (everyone but the
// sender, who already holds it locally).
type StrokeRelay struct {
	OwnerID string  `json:"ownerId"`
	Points  []Point `json:"points"`
	Color   string  `json:"color"`
	// Timestamp is the emitter-assigned creation time in Unix
	// milliseconds; receivers key their local expiry on it.
	Timestamp int64 `json:"timestamp"`
}

// VoiceSignal carries an SDP offer or answer between two clients. The
// server relays it to the addressee without inspecting it.
type VoiceSignal struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Voice signal kinds.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
)

// Kick notifies a client that it has been removed by an administrator.
// The connection is closed shortly after.
type Kick struct {
	Reason string `json:"reason,omitempty"`
}
