package recorder

import (
	"time"

	"github.com/lexiqai/voice-scribe/internal/session"
)

// SessionInfo describes an active session for listing
type SessionInfo struct {
	ScopeID      string            `json:"scope_id"`
	SessionID    string            `json:"session_id"`
	State        string            `json:"state"`
	StartedAt    time.Time         `json:"started_at"`
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantInfo describes one participant capture
type ParticipantInfo struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	State        string  `json:"state"`
	Bytes        int64   `json:"bytes"`
	VoicedSeconds float64 `json:"voiced_seconds"`
	Forced       bool    `json:"forced_close,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Sessions lists every session that has not been released
func (c *Coordinator) Sessions() []SessionInfo {
	active := c.deps.Registry.Active()
	out := make([]SessionInfo, 0, len(active))
	for _, s := range active {
		out = append(out, describe(s))
	}
	return out
}

// describe returns the listing entry for one session
func describe(s *session.Session) SessionInfo {
	info := SessionInfo{
		ScopeID:      s.ScopeID,
		SessionID:    s.ID,
		State:        s.State().String(),
		StartedAt:    s.StartedAt,
		Participants: []ParticipantInfo{},
	}

	m := s.Capture()
	if m == nil {
		return info
	}
	for _, p := range m.Participants() {
		pi := ParticipantInfo{
			ID:           p.ID,
			Label:        p.Label,
			State:        p.State.String(),
			Bytes:        p.Bytes,
			VoicedSeconds: p.Voiced.Seconds(),
			Forced:       p.Forced,
		}
		if p.Err != nil {
			pi.Error = p.Err.Error()
		}
		info.Participants = append(info.Participants, pi)
	}
	return info
}
