// Package client implements the presence client: it connects to the
// server's WebSocket endpoint, performs the login handshake, mirrors
// every remote participant as a locally smoothed shadow entity, and
// throttles outbound position updates to a fixed rate.
//
// The client never accumulates deltas. Every server snapshot carries
// the complete participant set, so the shadow set is reconciled from
// scratch on each one; a lost snapshot is healed by the next.
package client
