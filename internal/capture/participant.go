package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/voice-scribe/internal/audio"
	"github.com/lexiqai/voice-scribe/internal/transport"
)

// State is the lifecycle state of one participant capture
type State int32

const (
	StateCapturing State = iota
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Participant is the capture state for one speaker.
// Its raw file is written only by its own pipeline and read only once Closed.
type Participant struct {
	ID        string
	Label     string
	Order     int // first-speech order within the session, starting at 0
	StartedAt time.Time
	RawPath   string

	state  atomic.Int32
	bytes  atomic.Int64
	meter  *audio.SpeechMeter
	forced atomic.Bool

	// per pipeline run; replaced when a participant rejoins after leaving
	stream    transport.FrameStream
	sink      *sink
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce *sync.Once

	errMu sync.Mutex
	err   error
}

// State returns the current lifecycle state
func (p *Participant) State() State {
	return State(p.state.Load())
}

// Snapshot is a read-only view of a participant
type Snapshot struct {
	ID        string
	Label     string
	Order     int
	StartedAt time.Time
	RawPath   string
	State     State
	Bytes     int64
	Voiced    time.Duration
	Forced    bool
	Err       error
}

func (p *Participant) snapshot() Snapshot {
	p.errMu.Lock()
	err := p.err
	p.errMu.Unlock()

	return Snapshot{
		ID:        p.ID,
		Label:     p.Label,
		Order:     p.Order,
		StartedAt: p.StartedAt,
		RawPath:   p.RawPath,
		State:     p.State(),
		Bytes:     p.bytes.Load(),
		Voiced:    p.meter.Voiced(),
		Forced:    p.forced.Load(),
		Err:       err,
	}
}

func (p *Participant) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

// markClosed moves the current run to Closed exactly once
func (p *Participant) markClosed(closed chan struct{}, once *sync.Once) {
	once.Do(func() {
		p.state.Store(int32(StateClosed))
		close(closed)
	})
}
