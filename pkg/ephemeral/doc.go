// Package ephemeral implements the fire-and-forget broadcast events:
// head-stamps and transient pen strokes.
//
// An ephemeral event exists independently on the emitter and on every
// receiver. Each holder enforces the event's lifetime against its own
// clock; there is no cancellation message and the server retains no
// state. A lost relay is a cosmetic miss, never a consistency problem.
package ephemeral
