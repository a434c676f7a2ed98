// Package server implements the presence server: the WebSocket endpoint
// clients connect to, the per-connection session lifecycle with its
// liveness probes, the single-goroutine event hub that owns the
// participant registry, and the authenticated admin surface.
//
// All registry mutations are processed one at a time on the hub
// goroutine, so a mutation and the full-snapshot broadcast it triggers
// are atomic with respect to every other connection's events.
package server
