// Package voice maintains the full-mesh audio layer: one WebRTC
// PeerConnection per remote participant, created and torn down to
// match the voice-address set carried by presence snapshots.
//
// Signaling is vanilla ICE: all candidates are gathered before the SDP
// is sent, so each link needs exactly one offer/answer round-trip
// through the presence server's signal relay. The mesh never decides
// who should be connected; it only converges on the address set the
// reconciler hands it.
package voice
