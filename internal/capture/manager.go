package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/voice-scribe/internal/audio"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/lexiqai/voice-scribe/internal/transport"
	"github.com/rs/zerolog"
)

// ErrTransportLost reports that reconnection to the upstream transport was exhausted
var ErrTransportLost = errors.New("upstream transport lost")

// Config controls capture behavior for one session
type Config struct {
	Dir             string // Session directory holding raw captures
	SampleRate      int
	Channels        int
	FlushInterval   time.Duration
	FinalizeTimeout time.Duration
	SpeechThreshold float64
	Reconnect       *resilience.ReconnectConfig
}

// Manager owns the participant map of one session and turns transport events into per-participant capture pipelines
type Manager struct {
	cfg     Config
	tr      transport.Transport
	decoder *audio.Decoder
	logger  zerolog.Logger

	mu           sync.Mutex
	participants map[string]*Participant
	nextOrder    int
	accepting    bool
	onJoin       func(Snapshot)

	stopOnce   sync.Once
	stopped    chan struct{}
	finalizers sync.WaitGroup
}

// NewManager creates a capture manager writing into cfg.Dir
func NewManager(tr transport.Transport, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture dir: %w", err)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}

	return &Manager{
		cfg:          cfg,
		tr:           tr,
		decoder:      audio.NewDecoder(cfg.SampleRate, cfg.Channels),
		logger:       logger.With().Str("component", "capture").Logger(),
		participants: make(map[string]*Participant),
		accepting:    true,
		stopped:      make(chan struct{}),
	}, nil
}

// OnParticipant registers a hook called once for each newly captured participant
func (m *Manager) OnParticipant(fn func(Snapshot)) {
	m.mu.Lock()
	m.onJoin = fn
	m.mu.Unlock()
}

// Run is the single dispatch point for transport events. It returns nil once
// StopAll is called, or an error wrapping ErrTransportLost when reconnection is exhausted.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	events := m.tr.Events()
	for {
		select {
		case <-m.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if err := m.handle(ctx, ev); err != nil {
				if m.isStopped() {
					return nil
				}
				return err
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev transport.Event) error {
	switch ev.Type {
	case transport.EventSpeakingStarted:
		m.startCapture(ev.Participant)

	case transport.EventParticipantLeft:
		m.finalizers.Add(1)
		go func(id string) {
			defer m.finalizers.Done()
			m.Finalize(id)
		}(ev.Participant.ID)

	case transport.EventConnectionLost:
		m.logger.Warn().Err(ev.Err).Msg("Upstream connection lost, reconnecting")
		err := resilience.Reconnect(ctx, func(ctx context.Context) error {
			err := m.tr.Reconnect(ctx)
			observability.RecordReconnect(err == nil)
			return err
		}, m.cfg.Reconnect)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransportLost, err)
		}

	case transport.EventConnectionRestored:
		m.logger.Info().Msg("Upstream connection restored")
	}
	return nil
}

func (m *Manager) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

// startCapture opens a pipeline for p unless one is already running.
// Repeated speaking events for a capturing participant are no-ops.
func (m *Manager) startCapture(tp transport.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.accepting {
		return
	}
	p, exists := m.participants[tp.ID]
	if exists && p.State() != StateClosed {
		return
	}

	order := m.nextOrder
	rawPath := filepath.Join(m.cfg.Dir, rawFileName(order, tp.ID))
	if exists {
		rawPath = p.RawPath
	}

	stream, err := m.tr.Subscribe(tp.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("participant_id", tp.ID).Msg("Failed to subscribe to participant audio")
		return
	}

	f, err := os.OpenFile(rawPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		stream.Close()
		m.logger.Error().Err(err).Str("participant_id", tp.ID).Msg("Failed to open capture file")
		return
	}

	if !exists {
		p = &Participant{
			ID:        tp.ID,
			Label:     tp.Label,
			Order:     order,
			StartedAt: time.Now(),
			RawPath:   rawPath,
			meter:     audio.NewSpeechMeter(m.cfg.SpeechThreshold, m.cfg.SampleRate, m.cfg.Channels),
		}
		m.participants[tp.ID] = p
		m.nextOrder++
	}

	ctx, cancel := context.WithCancel(context.Background())
	closed := make(chan struct{})
	once := &sync.Once{}
	out := newSink(f)
	p.stream = stream
	p.sink = out
	p.cancel = cancel
	p.closed = closed
	p.closeOnce = once
	p.state.Store(int32(StateCapturing))

	go m.pipeline(ctx, cancel, p, out, stream, closed, once)

	logger := observability.WithParticipant(m.logger, p.ID)
	if exists {
		logger.Info().Msg("Participant rejoined, resuming capture")
		return
	}
	observability.RecordParticipant()
	logger.Info().Str("label", p.Label).Int("order", p.Order).Msg("Participant capture started")
	if m.onJoin != nil {
		snap := p.snapshot()
		onJoin := m.onJoin
		go onJoin(snap)
	}
}

// pipeline decodes frames and appends them to the participant's raw file until the stream ends or ctx is cancelled
func (m *Manager) pipeline(ctx context.Context, cancel context.CancelFunc, p *Participant, out *sink,
	stream transport.FrameStream, closed chan struct{}, once *sync.Once) {
	defer cancel()
	logger := observability.WithParticipant(m.logger, p.ID)

	defer func() {
		if err := out.Close(); err != nil {
			p.setErr(err)
			logger.Error().Err(err).Msg("Failed to close capture file")
		}
		p.markClosed(closed, once)
		logger.Debug().Int64("bytes", p.bytes.Load()).Msg("Capture pipeline ended")
	}()

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				return
			}
			pcm, err := m.decoder.Decode(frame.Format, frame.Payload)
			if err != nil {
				p.setErr(fmt.Errorf("decode: %w", err))
				logger.Error().Err(err).Msg("Decode failed, ending participant capture")
				stream.Close()
				return
			}
			if len(pcm) == 0 {
				continue
			}
			if err := out.Write(pcm); err != nil {
				if errors.Is(err, errSinkClosed) {
					return
				}
				p.setErr(fmt.Errorf("write: %w", err))
				logger.Error().Err(err).Msg("Write failed, ending participant capture")
				stream.Close()
				return
			}
			p.bytes.Add(int64(len(pcm)))
			observability.RecordCaptureBytes(len(pcm))
			if samples, err := audio.BytesToSamples(pcm); err == nil {
				p.meter.Observe(samples)
			}

		case <-ticker.C:
			flushErr, syncErr := out.Flush()
			if flushErr != nil {
				p.setErr(fmt.Errorf("flush: %w", flushErr))
				logger.Error().Err(flushErr).Msg("Periodic flush failed, ending participant capture")
				stream.Close()
				return
			}
			if syncErr != nil {
				logger.Warn().Err(syncErr).Msg("Periodic sync failed")
			}
		}
	}
}

// Finalize gracefully closes one participant's capture, forcing it closed after FinalizeTimeout.
// If another path is already finalizing the participant, Finalize waits for that instead.
func (m *Manager) Finalize(id string) {
	m.mu.Lock()
	p, ok := m.participants[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	stream, out, cancel, closed, once := p.stream, p.sink, p.cancel, p.closed, p.closeOnce
	owner := p.state.CompareAndSwap(int32(StateCapturing), int32(StateFinalizing))
	m.mu.Unlock()

	if !owner {
		<-closed
		return
	}

	logger := observability.WithParticipant(m.logger, id)
	if err := stream.Close(); err != nil {
		logger.Warn().Err(err).Msg("Stream close returned an error")
	}

	timer := time.NewTimer(m.cfg.FinalizeTimeout)
	defer timer.Stop()

	select {
	case <-closed:
		logger.Info().Int64("bytes", p.bytes.Load()).Msg("Participant capture finalized")
	case <-timer.C:
		p.forced.Store(true)
		observability.RecordForcedClose()
		logger.Warn().Dur("timeout", m.cfg.FinalizeTimeout).Msg("Capture did not close in time, forcing")
		// Close the file before marking Closed so no late write lands after
		// the raw capture is handed to transcoding.
		if err := out.Close(); err != nil {
			p.setErr(err)
			logger.Error().Err(err).Msg("Failed to close forced capture file")
		}
		cancel()
		p.markClosed(closed, once)
	}
}

// StopAll stops accepting new participants and finalizes every open capture concurrently.
// It returns once every participant is Closed.
func (m *Manager) StopAll() {
	m.stopOnce.Do(func() { close(m.stopped) })

	m.mu.Lock()
	m.accepting = false
	ids := make([]string, 0, len(m.participants))
	for id := range m.participants {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Finalize(id)
		}(id)
	}
	wg.Wait()
	m.finalizers.Wait()
}

// Participants returns every participant in first-speech order
func (m *Manager) Participants() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func rawFileName(order int, participantID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, participantID)
	return fmt.Sprintf("%02d_%s.pcm", order, safe)
}
