package protocol

import "errors"

// Wire limits. Messages violating these are rejected before any state
// change; they bound per-connection memory, not application semantics.
const (
	// MaxMessageSize is the largest accepted WebSocket message.
	MaxMessageSize = 64 * 1024

	// MaxDisplayNameLen bounds login display names.
	MaxDisplayNameLen = 32

	// MaxChatLen bounds chat message text.
	MaxChatLen = 1000

	// MaxStrokePoints bounds the point count of a single stroke.
	MaxStrokePoints = 2048

	// MinStrokePoints is the smallest point count of a finalized stroke.
	// A stroke with fewer points is discarded, never relayed.
	MinStrokePoints = 2
)

// Codec errors.
var (
	ErrMessageTooLarge = errors.New("protocol: message too large")
	ErrMissingType     = errors.New("protocol: envelope missing type")
	ErrEmptyPayload    = errors.New("protocol: empty payload")
)

// ValidStroke reports whether a stroke is well-formed for relay: a
// complete point sequence within the size bounds.
func ValidStroke(points []Point) bool {
	return len(points) >= MinStrokePoints && len(points) <= MaxStrokePoints
}
