package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/roomverse-dev/roomverse/internal/config"
	"github.com/roomverse-dev/roomverse/pkg/client"
	"github.com/roomverse-dev/roomverse/pkg/protocol"
	"github.com/roomverse-dev/roomverse/pkg/voice"
)

func joinCmd() *cobra.Command {
	var (
		url       string
		name      string
		withVoice bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room from the terminal",
		Long: `Join a room as a headless participant: presence, chat, and
optionally the voice mesh (connectivity only, no audio device).

Incoming chat and room changes are printed to stdout; lines typed on
stdin are sent as chat. Useful for smoke-testing a deployment.

Examples:
  roomverse join --url=ws://localhost:3000/ws --name=observer
  roomverse join --url=ws://room.example.net/ws --name=probe --voice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(url, name, withVoice)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "ws://localhost:3000/ws", "Server WebSocket URL")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (required)")
	cmd.Flags().BoolVar(&withVoice, "voice", false, "Join the voice mesh")
	cmd.MarkFlagRequired("name")

	return cmd
}

// consoleRenderer prints presence changes as they reconcile.
type consoleRenderer struct{}

func (consoleRenderer) EntityAdded(e client.Entity) {
	fmt.Printf("* %s joined\n", e.DisplayName)
}

func (consoleRenderer) EntityRemoved(id string) {
	fmt.Printf("* participant %s left\n", id)
}

func runJoin(url, name string, withVoice bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The mesh signals through the client, which does not exist until
	// Dial returns, while the first snapshot can already ask the mesh
	// to dial out. The holder makes early signals fail cleanly; the
	// next reconciliation pass retries them.
	var clientRef atomic.Pointer[client.Client]
	var mesh *voice.Mesh

	clientCfg := client.Config{
		URL:         url,
		DisplayName: name,
		Logger:      logger,
		Renderer:    consoleRenderer{},
		OnChat: func(relay protocol.ChatRelay) {
			fmt.Printf("<%s> %s\n", relay.DisplayName, relay.Text)
		},
		OnStamp: func(relay protocol.StampRelay) {
			fmt.Printf("* %s %s\n", relay.DisplayName, relay.Glyph)
		},
		OnKick: func(reason string) {
			fmt.Printf("* kicked: %s\n", reason)
		},
	}

	if withVoice {
		var iceServers []webrtc.ICEServer
		if len(cfg.Voice.STUNServers) > 0 {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.Voice.STUNServers})
		}
		mesh, err = voice.NewMesh(voice.Config{
			LocalAddr:  uuid.NewString(),
			Signaler:   clientSignaler(&clientRef),
			Logger:     logger,
			ICEServers: iceServers,
			Sink:       voice.NullSink{},
		})
		if err != nil {
			return err
		}
		defer mesh.Close()
		clientCfg.VoiceMesh = mesh
		clientCfg.OnVoiceSignal = mesh.HandleSignal
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, clientCfg)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()
	clientRef.Store(c)

	fmt.Printf("* joined as %s (%s)\n", c.DisplayName(), c.ID())

	if mesh != nil {
		if err := c.AnnounceVoice(mesh.LocalAddr()); err != nil {
			return err
		}
		fmt.Printf("* voice mesh up at %s\n", mesh.LocalAddr())
	}

	go readStdinChat(c)

	// Keep the shadow set interpolating even without a render loop, so
	// inspection tools see converged positions.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Reconciler().Step()
		case <-ctx.Done():
			return c.Logout()
		case <-c.Done():
			if err := c.Err(); err != nil {
				return err
			}
			return nil
		}
	}
}

// clientSignaler bridges mesh signaling onto a presence client that
// may not be connected yet.
func clientSignaler(ref *atomic.Pointer[client.Client]) voice.SignalerFunc {
	return func(ctx context.Context, sig protocol.VoiceSignal) error {
		c := ref.Load()
		if c == nil {
			return errors.New("presence connection not ready")
		}
		return c.SendVoiceSignal(sig)
	}
}

// readStdinChat forwards stdin lines as chat messages.
func readStdinChat(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := c.SendChat(text); err != nil {
			fmt.Fprintf(os.Stderr, "chat failed: %v\n", err)
		}
	}
}
