package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the outer frame of every WebSocket message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload in an Envelope of the given type and returns the
// serialized message.
func Encode(t Type, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encoding %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %s envelope: %w", t, err)
	}
	return data, nil
}

// Decode parses a raw WebSocket message into an Envelope. The payload
// stays raw until the caller knows its type; use DecodePayload.
func Decode(data []byte) (Envelope, error) {
	if len(data) > MaxMessageSize {
		return Envelope{}, fmt.Errorf("protocol: message of %d bytes exceeds limit %d: %w",
			len(data), MaxMessageSize, ErrMessageTooLarge)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decoding envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// DecodePayload unmarshals an envelope's payload into dst.
func DecodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("protocol: %s: %w", env.Type, ErrEmptyPayload)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("protocol: decoding %s payload: %w", env.Type, err)
	}
	return nil
}
