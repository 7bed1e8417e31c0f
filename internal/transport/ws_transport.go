package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-scribe/internal/audio"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/rs/zerolog"
)

// BridgeMessage is one JSON message from the voice bridge
type BridgeMessage struct {
	Event       string             `json:"event"`
	Participant *BridgeParticipant `json:"participant,omitempty"`
	Media       *BridgeMedia       `json:"media,omitempty"`
}

// BridgeParticipant identifies the speaker a message refers to
type BridgeParticipant struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// BridgeMedia carries one audio frame
type BridgeMedia struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Payload    string `json:"payload"` // Base64 encoded audio
}

// Options tunes a WSTransport
type Options struct {
	FrameBuffer int               // Per-participant frame queue depth
	SendTimeout time.Duration     // How long a full queue may stall the read loop before a frame is dropped
	Logger      *zerolog.Logger   // Defaults to the global logger
	Dialer      *websocket.Dialer // Defaults to a 10s handshake dialer
}

// WSTransport is a Transport backed by a gorilla/websocket connection to the voice bridge
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	opts   Options
	logger zerolog.Logger

	events chan Event
	done   chan struct{}

	mu           sync.Mutex
	conn         *websocket.Conn
	subs         map[string]*subscription
	disconnected bool
	closeOnce    sync.Once
}

// DialWS connects to the bridge at bridgeURL for the given scope
func DialWS(ctx context.Context, bridgeURL, scopeID string, opts Options) (*WSTransport, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge url: %w", err)
	}
	q := u.Query()
	q.Set("scope", scopeID)
	u.RawQuery = q.Encode()

	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 512
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 50 * time.Millisecond
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		}
	}

	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	t := &WSTransport{
		url:    u.String(),
		dialer: dialer,
		opts:   opts,
		logger: logger.With().Str("component", "transport").Logger(),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		subs:   make(map[string]*subscription),
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	go t.readLoop(conn)

	return t, nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge dial failed: %w", err)
	}
	return conn, nil
}

// Events returns the upstream event channel
func (t *WSTransport) Events() <-chan Event {
	return t.events
}

// Subscribe opens the frame stream for one participant
func (t *WSTransport) Subscribe(participantID string) (FrameStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disconnected {
		return nil, ErrDisconnected
	}
	if _, ok := t.subs[participantID]; ok {
		return nil, ErrAlreadySubscribed
	}

	sub := &subscription{
		owner:         t,
		participantID: participantID,
		frames:        make(chan Frame, t.opts.FrameBuffer),
		quit:          make(chan struct{}),
	}
	t.subs[participantID] = sub
	return sub, nil
}

// Reconnect replaces the connection with a fresh dial.
// Open subscriptions survive and resume receiving frames.
func (t *WSTransport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.disconnected {
		t.mu.Unlock()
		return ErrDisconnected
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.disconnected {
		t.mu.Unlock()
		conn.Close()
		return ErrDisconnected
	}
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go t.readLoop(conn)

	t.emit(Event{Type: EventConnectionRestored})
	return nil
}

// Disconnect closes the connection and every open frame stream
func (t *WSTransport) Disconnect() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.disconnected = true
		conn := t.conn
		subs := t.subs
		t.subs = make(map[string]*subscription)
		for _, sub := range subs {
			sub.closeLocked()
		}
		t.mu.Unlock()

		close(t.done)

		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"), deadline)
			err = conn.Close()
		}
	})
	return err
}

// readLoop consumes messages from conn until it fails or is replaced
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stale := t.disconnected || t.conn != conn
			t.mu.Unlock()
			if stale {
				return
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				t.logger.Warn().Err(err).Msg("Bridge connection lost")
			}
			t.emit(Event{Type: EventConnectionLost, Err: err})
			return
		}

		var msg BridgeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			t.logger.Error().Err(err).Msg("Failed to parse bridge message")
			continue
		}
		t.handleMessage(&msg)
	}
}

func (t *WSTransport) handleMessage(msg *BridgeMessage) {
	if msg.Participant == nil || msg.Participant.ID == "" {
		t.logger.Debug().Str("event", msg.Event).Msg("Bridge message without participant")
		return
	}
	p := Participant{ID: msg.Participant.ID, Label: msg.Participant.Label}
	if p.Label == "" {
		p.Label = p.ID
	}

	switch msg.Event {
	case "speaking":
		t.emit(Event{Type: EventSpeakingStarted, Participant: p})

	case "media":
		if msg.Media == nil {
			return
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			t.logger.Warn().Err(err).Str("participant_id", p.ID).Msg("Failed to decode base64 audio")
			return
		}
		t.dispatch(p.ID, Frame{
			Format: audio.Format{
				Codec:      msg.Media.Codec,
				SampleRate: msg.Media.SampleRate,
				Channels:   msg.Media.Channels,
			},
			Payload: payload,
		})

	case "left":
		t.emit(Event{Type: EventParticipantLeft, Participant: p})

	default:
		t.logger.Debug().Str("event", msg.Event).Msg("Unknown bridge event")
	}
}

// dispatch hands a frame to the participant's stream. A full queue stalls the
// read loop for at most SendTimeout before the frame is dropped.
func (t *WSTransport) dispatch(participantID string, frame Frame) {
	t.mu.Lock()
	sub, ok := t.subs[participantID]
	t.mu.Unlock()
	if !ok {
		return
	}

	if sub.deliver(frame, t.opts.SendTimeout) {
		return
	}
	dropped := sub.dropped.Add(1)
	observability.RecordFrameDropped()
	if dropped == 1 || dropped%100 == 0 {
		t.logger.Warn().
			Str("participant_id", participantID).
			Int64("dropped", dropped).
			Msg("Frame queue full, dropping audio frame")
	}
}

func (t *WSTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

type subscription struct {
	owner         *WSTransport
	participantID string
	frames        chan Frame
	quit          chan struct{}
	closed        bool // guarded by owner.mu
	dropped       atomic.Int64

	sendMu sync.Mutex
	ended  bool // frames is closed; guarded by sendMu
}

func (s *subscription) Frames() <-chan Frame {
	return s.frames
}

// Close ends the stream; safe to call more than once
func (s *subscription) Close() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()

	if cur, ok := s.owner.subs[s.participantID]; ok && cur == s {
		delete(s.owner.subs, s.participantID)
	}
	s.closeLocked()
	return nil
}

// closeLocked must be called with owner.mu held
func (s *subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)

	s.sendMu.Lock()
	s.ended = true
	close(s.frames)
	s.sendMu.Unlock()
}

// deliver queues frame, waiting up to timeout for room. It reports false only
// when the frame was dropped; frames for a closed stream are discarded.
func (s *subscription) deliver(frame Frame, timeout time.Duration) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.ended {
		return true
	}

	select {
	case s.frames <- frame:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.frames <- frame:
		return true
	case <-s.quit:
		return true
	case <-timer.C:
		return false
	}
}
