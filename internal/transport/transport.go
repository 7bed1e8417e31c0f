package transport

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-scribe/internal/audio"
)

// EventType identifies an upstream session event
type EventType int

const (
	EventSpeakingStarted EventType = iota
	EventParticipantLeft
	EventConnectionLost
	EventConnectionRestored
)

func (t EventType) String() string {
	switch t {
	case EventSpeakingStarted:
		return "speaking_started"
	case EventParticipantLeft:
		return "participant_left"
	case EventConnectionLost:
		return "connection_lost"
	case EventConnectionRestored:
		return "connection_restored"
	default:
		return "unknown"
	}
}

// Participant identifies one speaker as reported by the transport
type Participant struct {
	ID    string
	Label string
}

// Event is a typed upstream notification delivered to the capture dispatch loop
type Event struct {
	Type        EventType
	Participant Participant
	Err         error // set for EventConnectionLost
}

// Frame is one encoded audio payload for a single participant
type Frame struct {
	Format  audio.Format
	Payload []byte
}

// FrameStream delivers a participant's frames until closed.
// Streams never close themselves on silence; only Close or Disconnect end them.
type FrameStream interface {
	Frames() <-chan Frame
	Close() error
}

// Transport is the real-time voice connection a session captures from
type Transport interface {
	Events() <-chan Event
	Subscribe(participantID string) (FrameStream, error)
	Reconnect(ctx context.Context) error
	Disconnect() error
}

var (
	// ErrAlreadySubscribed is returned when a participant already has an open stream
	ErrAlreadySubscribed = errors.New("participant already subscribed")
	// ErrDisconnected is returned by operations on a transport that was disconnected
	ErrDisconnected = errors.New("transport disconnected")
)
