// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/lexiqai/voice-scribe/internal/transport"
)

// Transport is a scriptable in-memory transport.Transport
type Transport struct {
	events chan transport.Event

	// ReconnectFunc decides the outcome of each Reconnect call. Nil succeeds.
	ReconnectFunc func(ctx context.Context) error

	mu           sync.Mutex
	streams      map[string]*Stream
	subscribes   map[string]int
	holdOpen     map[string]bool
	reconnects   int
	disconnected bool
}

// New creates an empty fake transport
func New() *Transport {
	return &Transport{
		events:     make(chan transport.Event, 64),
		streams:    make(map[string]*Stream),
		subscribes: make(map[string]int),
		holdOpen:   make(map[string]bool),
	}
}

// Events implements transport.Transport
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Subscribe implements transport.Transport
func (t *Transport) Subscribe(participantID string) (transport.FrameStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disconnected {
		return nil, transport.ErrDisconnected
	}
	if s, ok := t.streams[participantID]; ok && !s.isClosed() {
		return nil, transport.ErrAlreadySubscribed
	}
	t.subscribes[participantID]++

	s := &Stream{frames: make(chan transport.Frame, 64), holdOpen: t.holdOpen[participantID]}
	t.streams[participantID] = s
	return s, nil
}

// Reconnect implements transport.Transport
func (t *Transport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	t.reconnects++
	fn := t.ReconnectFunc
	t.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	t.Emit(transport.Event{Type: transport.EventConnectionRestored})
	return nil
}

// Disconnect implements transport.Transport
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.disconnected = true
	streams := make([]*Stream, 0, len(t.streams))
	for _, s := range t.streams {
		streams = append(streams, s)
	}
	t.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}

// Emit queues an event for the consumer
func (t *Transport) Emit(ev transport.Event) {
	t.events <- ev
}

// Speak emits a speaking-started event
func (t *Transport) Speak(id, label string) {
	t.Emit(transport.Event{Type: transport.EventSpeakingStarted, Participant: transport.Participant{ID: id, Label: label}})
}

// Leave emits a participant-left event
func (t *Transport) Leave(id string) {
	t.Emit(transport.Event{Type: transport.EventParticipantLeft, Participant: transport.Participant{ID: id, Label: id}})
}

// Lose emits a connection-lost event
func (t *Transport) Lose(err error) {
	t.Emit(transport.Event{Type: transport.EventConnectionLost, Err: err})
}

// HoldOpen makes future streams for id ignore Close, simulating a stream that never ends
func (t *Transport) HoldOpen(id string) {
	t.mu.Lock()
	t.holdOpen[id] = true
	t.mu.Unlock()
}

// Send delivers a frame to the participant's open stream. It reports false if none is open.
func (t *Transport) Send(id string, frame transport.Frame) bool {
	t.mu.Lock()
	s := t.streams[id]
	t.mu.Unlock()
	if s == nil {
		return false
	}
	return s.send(frame)
}

// SubscribeCount reports how many times id was subscribed
func (t *Transport) SubscribeCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribes[id]
}

// Reconnects reports how many Reconnect calls were made
func (t *Transport) Reconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconnects
}

// Disconnected reports whether Disconnect was called
func (t *Transport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected
}

// Stream is the fake transport.FrameStream
type Stream struct {
	mu       sync.Mutex
	frames   chan transport.Frame
	closed   bool
	holdOpen bool
}

// Frames implements transport.FrameStream
func (s *Stream) Frames() <-chan transport.Frame {
	return s.frames
}

// Close implements transport.FrameStream
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.holdOpen {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) send(frame transport.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- frame
	return true
}
