package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/samber/lo"

	"github.com/roomverse-dev/roomverse/pkg/protocol"
)

// kickRequest is the body of POST /admin/kick.
type kickRequest struct {
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason,omitempty"`
}

// statsResponse is the body of GET /admin/stats.
type statsResponse struct {
	UptimeSeconds     float64              `json:"uptimeSeconds"`
	Participants      int                  `json:"participants"`
	ParticipantList   []participantSummary `json:"participantList"`
	RequestsPerSecond int64                `json:"requestsPerSecond"`
	EventsPerSecond   int64                `json:"eventsPerSecond"`
	HeapAllocBytes    uint64               `json:"heapAllocBytes"`
	NumGoroutine      int                  `json:"numGoroutine"`
	LoginLog          []LogEntry           `json:"loginLog"`
	ChatLog           []LogEntry           `json:"chatLog"`
	ServerLog         []LogEntry           `json:"serverLog"`
}

type participantSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	VoiceAddr   string `json:"voiceAddr,omitempty"`
	MicMuted    bool   `json:"micMuted"`
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.hub.Kick(req.ParticipantID, req.Reason)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "participant not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info("admin kick", "participant_id", req.ParticipantID, "reason", req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.Registry().Snapshot()
	logins, chats, serverEvents := s.hub.Logs()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := statsResponse{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Participants:  len(snap.Participants),
		ParticipantList: lo.Map(snap.Participants, func(p protocol.Participant, _ int) participantSummary {
			return participantSummary{
				ID:          p.ID,
				DisplayName: p.DisplayName,
				VoiceAddr:   p.VoiceAddr,
				MicMuted:    p.MicMuted,
			}
		}),
		RequestsPerSecond: s.reqRate.last(),
		EventsPerSecond:   s.hub.EventsPerSecond(),
		HeapAllocBytes:    mem.HeapAlloc,
		NumGoroutine:      runtime.NumGoroutine(),
		LoginLog:          logins,
		ChatLog:           chats,
		ServerLog:         serverEvents,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("writing stats", "error", err)
	}
}
