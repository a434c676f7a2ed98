package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer spins up a hub and an httptest listener around the
// full routing tree.
func startTestServer(t *testing.T, cfg *ServerConfig) (*Server, *httptest.Server) {
	t.Helper()

	srv := New(cfg, testLogger(), WithRegistry(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ protocol.Type, payload any) {
	t.Helper()
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encoding %s: %v", typ, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("writing %s: %v", typ, err)
	}
}

// waitFor reads messages until one of the wanted type arrives. Other
// types (snapshots, liveness probes) are discarded.
func waitFor(t *testing.T, conn *websocket.Conn, typ protocol.Type) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			t.Fatalf("decoding while waiting for %s: %v", typ, err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func login(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()
	send(t, conn, protocol.TypeLogin, protocol.LoginRequest{DisplayName: name})
	env := waitFor(t, conn, protocol.TypeLoginSuccess)
	var ok protocol.LoginSuccess
	if err := protocol.DecodePayload(env, &ok); err != nil {
		t.Fatalf("decoding login success: %v", err)
	}
	if ok.DisplayName != name {
		t.Fatalf("logged in as %q, want %q", ok.DisplayName, name)
	}
	return ok.ID
}

func TestLoginAndSnapshot(t *testing.T) {
	srv, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	id := login(t, conn, "alice")
	if id == "" {
		t.Fatal("empty participant ID")
	}
	if got := srv.Hub().Registry().Count(); got != 1 {
		t.Fatalf("registry count = %d, want 1", got)
	}

	// A second login mutates the registry, so every client receives a
	// fresh full snapshot.
	conn2 := dial(t, ts)
	login(t, conn2, "bob")

	env := waitFor(t, conn, protocol.TypeSnapshot)
	var snap protocol.Snapshot
	if err := protocol.DecodePayload(env, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("snapshot has %d participants, want 2", len(snap.Participants))
	}
	if snap.Participants[0].DisplayName != "alice" || snap.Participants[1].DisplayName != "bob" {
		t.Fatalf("snapshot not in join order: %+v", snap.Participants)
	}
	if !snap.Participants[0].MicMuted {
		t.Fatal("new participant should start mic muted")
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	srv, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	login(t, conn, "alice")

	conn2 := dial(t, ts)
	send(t, conn2, protocol.TypeLogin, protocol.LoginRequest{DisplayName: "alice"})
	env := waitFor(t, conn2, protocol.TypeLoginError)
	var le protocol.LoginError
	if err := protocol.DecodePayload(env, &le); err != nil {
		t.Fatalf("decoding login error: %v", err)
	}
	if le.Message == "" {
		t.Fatal("login error carries no message")
	}
	if got := srv.Hub().Registry().Count(); got != 1 {
		t.Fatalf("registry count = %d after rejected login, want 1", got)
	}

	// The rejected session is still usable under a free name.
	login(t, conn2, "bob")
	if got := srv.Hub().Registry().Count(); got != 2 {
		t.Fatalf("registry count = %d, want 2", got)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	srv, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	login(t, conn, "alice")
	conn2 := dial(t, ts)
	login(t, conn2, "bob")
	waitFor(t, conn, protocol.TypeSnapshot)

	// Abrupt close, no logout message.
	conn2.Close()

	env := waitFor(t, conn, protocol.TypeSnapshot)
	var snap protocol.Snapshot
	if err := protocol.DecodePayload(env, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].DisplayName != "alice" {
		t.Fatalf("snapshot after disconnect = %+v, want alice only", snap.Participants)
	}

	// The departed name is free again.
	conn3 := dial(t, ts)
	login(t, conn3, "bob")
	if got := srv.Hub().Registry().Count(); got != 2 {
		t.Fatalf("registry count = %d, want 2", got)
	}
}

func TestMoveRidesSnapshot(t *testing.T) {
	_, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	login(t, conn, "alice")
	conn2 := dial(t, ts)
	login(t, conn2, "bob")

	send(t, conn, protocol.TypeMove, protocol.Move{Position: [3]float64{1, 0, -2}, Yaw: 1.5})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never observed the moved position in a snapshot")
		}
		env := waitFor(t, conn2, protocol.TypeSnapshot)
		var snap protocol.Snapshot
		if err := protocol.DecodePayload(env, &snap); err != nil {
			t.Fatalf("decoding snapshot: %v", err)
		}
		for _, p := range snap.Participants {
			if p.DisplayName == "alice" && p.Position == [3]float64{1, 0, -2} && p.Yaw == 1.5 {
				return
			}
		}
	}
}

func TestChatRelaysToOthersOnly(t *testing.T) {
	_, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	aliceID := login(t, conn, "alice")
	conn2 := dial(t, ts)
	login(t, conn2, "bob")
	waitFor(t, conn, protocol.TypeSnapshot)

	send(t, conn, protocol.TypeChat, protocol.Chat{Text: "hello @bob", Mentions: []string{"bob"}})

	env := waitFor(t, conn2, protocol.TypeChatRelay)
	var relay protocol.ChatRelay
	if err := protocol.DecodePayload(env, &relay); err != nil {
		t.Fatalf("decoding chat relay: %v", err)
	}
	if relay.SenderID != aliceID || relay.Text != "hello @bob" {
		t.Fatalf("relay = %+v", relay)
	}
	if len(relay.Mentions) != 1 || relay.Mentions[0] != "bob" {
		t.Fatalf("mentions = %v, want [bob]", relay.Mentions)
	}

	// The sender must not receive its own message back. Trigger a new
	// snapshot and verify it arrives with no chat relay in between.
	send(t, conn2, protocol.TypeMove, protocol.Move{Position: [3]float64{5, 0, 0}})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		got, err := protocol.Decode(msg)
		if err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if got.Type == protocol.TypeChatRelay {
			t.Fatal("sender received its own chat relay")
		}
		if got.Type == protocol.TypeSnapshot {
			return
		}
	}
}

func TestStampRelaysToAll(t *testing.T) {
	_, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	aliceID := login(t, conn, "alice")
	conn2 := dial(t, ts)
	login(t, conn2, "bob")

	send(t, conn, protocol.TypeStamp, protocol.Stamp{Glyph: "🎉"})

	for _, c := range []*websocket.Conn{conn, conn2} {
		env := waitFor(t, c, protocol.TypeStampRelay)
		var relay protocol.StampRelay
		if err := protocol.DecodePayload(env, &relay); err != nil {
			t.Fatalf("decoding stamp relay: %v", err)
		}
		if relay.OwnerID != aliceID || relay.Glyph != "🎉" {
			t.Fatalf("stamp relay = %+v", relay)
		}
	}
}

func TestStrokeValidationAndRelay(t *testing.T) {
	_, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	aliceID := login(t, conn, "alice")
	conn2 := dial(t, ts)
	login(t, conn2, "bob")

	// A single-point stroke is rejected and relayed to nobody.
	send(t, conn, protocol.TypeStroke, protocol.Stroke{
		Points:    []protocol.Point{{X: 1, Y: 1}},
		Timestamp: time.Now().UnixMilli(),
	})

	ts2 := time.Now().UnixMilli()
	send(t, conn, protocol.TypeStroke, protocol.Stroke{
		Points:    []protocol.Point{{X: 0, Y: 0}, {X: 3, Y: 4}},
		Color:     "#ff0000",
		Timestamp: ts2,
	})

	env := waitFor(t, conn2, protocol.TypeStrokeRelay)
	var relay protocol.StrokeRelay
	if err := protocol.DecodePayload(env, &relay); err != nil {
		t.Fatalf("decoding stroke relay: %v", err)
	}
	if relay.OwnerID != aliceID || len(relay.Points) != 2 || relay.Timestamp != ts2 {
		t.Fatalf("stroke relay = %+v", relay)
	}
}

func TestVoiceSignalRouting(t *testing.T) {
	_, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	login(t, conn, "alice")
	send(t, conn, protocol.TypeVoiceReady, protocol.VoiceReady{VoiceAddr: "voice-alice"})

	conn2 := dial(t, ts)
	login(t, conn2, "bob")
	send(t, conn2, protocol.TypeVoiceReady, protocol.VoiceReady{VoiceAddr: "voice-bob"})

	// Wait until bob's address is registered and visible.
	for {
		env := waitFor(t, conn, protocol.TypeSnapshot)
		var snap protocol.Snapshot
		if err := protocol.DecodePayload(env, &snap); err != nil {
			t.Fatalf("decoding snapshot: %v", err)
		}
		found := false
		for _, p := range snap.Participants {
			if p.VoiceAddr == "voice-bob" {
				found = true
			}
		}
		if found {
			break
		}
	}

	send(t, conn, protocol.TypeVoiceSignal, protocol.VoiceSignal{
		From: "spoofed",
		To:   "voice-bob",
		Kind: protocol.SignalOffer,
		SDP:  "v=0 offer",
	})

	env := waitFor(t, conn2, protocol.TypeVoiceSignal)
	var sig protocol.VoiceSignal
	if err := protocol.DecodePayload(env, &sig); err != nil {
		t.Fatalf("decoding signal: %v", err)
	}
	if sig.From != "voice-alice" {
		t.Fatalf("signal From = %q, want the sender's registered address", sig.From)
	}
	if sig.Kind != protocol.SignalOffer || sig.SDP != "v=0 offer" {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestLivenessTimeoutRemovesSilentClient(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.SessionConfig = &SessionConfig{
		ProbeInterval: 20 * time.Millisecond,
		MissInterval:  40 * time.Millisecond,
	}
	srv, ts := startTestServer(t, cfg)

	conn := dial(t, ts)
	login(t, conn, "alice")

	// The client never answers a probe. It must be removed within a few
	// miss intervals.
	waitFor(t, conn, protocol.TypeAliveCheck)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Registry().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("silent client never removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAliveKeepsClientConnected(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.SessionConfig = &SessionConfig{
		ProbeInterval: 20 * time.Millisecond,
		MissInterval:  40 * time.Millisecond,
	}
	srv, ts := startTestServer(t, cfg)

	conn := dial(t, ts)
	login(t, conn, "alice")

	// Answer every probe for several miss intervals.
	stop := time.After(300 * time.Millisecond)
	for {
		select {
		case <-stop:
			if got := srv.Hub().Registry().Count(); got != 1 {
				t.Fatalf("registry count = %d, want the responsive client kept", got)
			}
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if env.Type == protocol.TypeAliveCheck {
			send(t, conn, protocol.TypeAlive, nil)
		}
	}
}

func TestLogoutBroadcasts(t *testing.T) {
	srv, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	login(t, conn, "alice")
	conn2 := dial(t, ts)
	login(t, conn2, "bob")
	waitFor(t, conn, protocol.TypeSnapshot)

	send(t, conn2, protocol.TypeLogout, nil)

	env := waitFor(t, conn, protocol.TypeSnapshot)
	var snap protocol.Snapshot
	if err := protocol.DecodePayload(env, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.Participants) != 1 {
		t.Fatalf("snapshot has %d participants after logout, want 1", len(snap.Participants))
	}
	if got := srv.Hub().Registry().Count(); got != 1 {
		t.Fatalf("registry count = %d, want 1", got)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := startTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AdminPassword = "hunter2"
	_, ts := startTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/admin/stats")
	if err != nil {
		t.Fatalf("GET /admin/stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin/stats", nil)
	req.SetBasicAuth("admin", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.NumGoroutine == 0 {
		t.Fatal("stats carries no runtime data")
	}
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	_, ts := startTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/admin/stats")
	if err != nil {
		t.Fatalf("GET /admin/stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when admin surface is disabled", resp.StatusCode)
	}
}

func TestAdminKick(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AdminPassword = "hunter2"
	srv, ts := startTestServer(t, cfg)

	conn := dial(t, ts)
	id := login(t, conn, "alice")

	body, _ := json.Marshal(kickRequest{ParticipantID: id, Reason: "testing"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/kick", bytes.NewReader(body))
	req.SetBasicAuth("admin", "hunter2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /admin/kick: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("kick status = %d, want 204", resp.StatusCode)
	}

	// The target is notified before the connection drops.
	env := waitFor(t, conn, protocol.TypeKick)
	var kick protocol.Kick
	if err := protocol.DecodePayload(env, &kick); err != nil {
		t.Fatalf("decoding kick: %v", err)
	}
	if kick.Reason != "testing" {
		t.Fatalf("kick reason = %q", kick.Reason)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Registry().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("kicked participant never removed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Kicking an unknown participant is a 404.
	body, _ = json.Marshal(kickRequest{ParticipantID: "nope"})
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/admin/kick", bytes.NewReader(body))
	req.SetBasicAuth("admin", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /admin/kick: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kick status = %d, want 404", resp.StatusCode)
	}
}

func TestEventBeforeLoginIgnored(t *testing.T) {
	srv, ts := startTestServer(t, nil)

	conn := dial(t, ts)
	send(t, conn, protocol.TypeMove, protocol.Move{Position: [3]float64{9, 9, 9}})
	send(t, conn, protocol.TypeChat, protocol.Chat{Text: "anyone?"})

	// The session survives and can still log in.
	login(t, conn, "alice")
	if got := srv.Hub().Registry().Count(); got != 1 {
		t.Fatalf("registry count = %d, want 1", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&ServerConfig{}).withDefaults()
	if cfg.Address != ":3000" {
		t.Fatalf("Address = %q", cfg.Address)
	}
	if cfg.SessionConfig.ProbeInterval != 10*time.Second {
		t.Fatalf("ProbeInterval = %v", cfg.SessionConfig.ProbeInterval)
	}
	if cfg.SessionConfig.MissInterval != 20*time.Second {
		t.Fatalf("MissInterval = %v", cfg.SessionConfig.MissInterval)
	}

	clamped := (&ServerConfig{
		SessionConfig: &SessionConfig{ProbeInterval: time.Minute, MissInterval: time.Second},
	}).withDefaults()
	if clamped.SessionConfig.MissInterval != time.Minute {
		t.Fatalf("MissInterval = %v, want clamped to ProbeInterval", clamped.SessionConfig.MissInterval)
	}
}

func TestRingLogEviction(t *testing.T) {
	l := newRingLog()
	for i := 0; i < ringLogSize+25; i++ {
		l.Append(time.Now(), "entry")
	}
	if got := len(l.Entries()); got != ringLogSize {
		t.Fatalf("ring holds %d entries, want %d", got, ringLogSize)
	}
}
