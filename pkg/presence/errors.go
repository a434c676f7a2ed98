package presence

import "errors"

var (
	// ErrMissingName is returned when a login request carries no display name.
	ErrMissingName = errors.New("presence: display name required")

	// ErrNameTooLong is returned when a display name exceeds the wire limit.
	ErrNameTooLong = errors.New("presence: display name too long")

	// ErrDuplicateName is returned when the requested display name is
	// already held by a connected participant. The registry is not
	// mutated by a rejected login.
	ErrDuplicateName = errors.New("presence: display name already in use")

	// ErrNotFound is returned when an update names an unknown participant.
	ErrNotFound = errors.New("presence: participant not found")
)
