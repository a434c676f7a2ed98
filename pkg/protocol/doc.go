// Package protocol defines the wire protocol between the presence server
// and its clients.
//
// Every WebSocket message is a JSON envelope carrying a message type and a
// type-specific payload. The server pushes the complete participant
// snapshot after every state-affecting event; clients never receive
// deltas, so a missed message is corrected by the next snapshot.
//
// Ephemeral messages (stamps, strokes, voice signaling) are pure relays:
// the server forwards them without retaining any state.
package protocol
