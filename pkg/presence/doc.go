// Package presence holds the authoritative registry of connected
// participants.
//
// The registry is a single-writer structure: all mutations flow through
// the server's event goroutine, so a mutation and the broadcast it
// triggers are atomic with respect to other mutations. An injected
// observer is notified synchronously after every successful mutation
// with a fresh snapshot of the whole registry.
package presence
