package session

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/voice-scribe/internal/capture"
)

var (
	// ErrAlreadyActive is returned when a scope already has a non-closed session
	ErrAlreadyActive = errors.New("a session is already active for this scope")
	// ErrNoActiveSession is returned when stopping a scope with no session
	ErrNoActiveSession = errors.New("no active session for this scope")
	// ErrAlreadyStopping is returned when a stop is already in progress
	ErrAlreadyStopping = errors.New("session is already stopping")
)

// State is the lifecycle state of a session
type State int

const (
	StateRecording State = iota
	StateStopping
	StateProcessing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one recording for one scope
type Session struct {
	ScopeID   string
	ID        string
	StartedAt time.Time
	Dir       string

	mu      sync.Mutex
	state   State
	capture *capture.Manager
	done    chan struct{}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session forward; Closed is final
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
	if state == StateClosed {
		close(s.done)
	}
}

// Attach binds the capture manager once the transport is connected.
// It fails with ErrAlreadyStopping if a stop won the race against the connect.
func (s *Session) Attach(m *capture.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return ErrAlreadyStopping
	}
	s.capture = m
	return nil
}

// Capture returns the attached capture manager, or nil before Attach
func (s *Session) Capture() *capture.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// Done is closed when the session reaches Closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// beginStop performs the single Recording -> Stopping transition
func (s *Session) beginStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return ErrAlreadyStopping
	}
	s.state = StateStopping
	return nil
}

// Registry maps scope ids to their active session.
// Operations on different scopes never contend on a shared lock.
type Registry struct {
	dataDir  string
	sessions sync.Map // scope id -> *Session
}

// NewRegistry creates a registry placing session directories under dataDir
func NewRegistry(dataDir string) *Registry {
	return &Registry{dataDir: dataDir}
}

// TryStart atomically creates a session for scopeID, or fails with ErrAlreadyActive
func (r *Registry) TryStart(scopeID string) (*Session, error) {
	id := uuid.New().String()
	candidate := &Session{
		ScopeID:   scopeID,
		ID:        id,
		StartedAt: time.Now().UTC(),
		Dir:       Dir(r.dataDir, scopeID, id),
		state:     StateRecording,
		done:      make(chan struct{}),
	}

	if _, loaded := r.sessions.LoadOrStore(scopeID, candidate); loaded {
		return nil, ErrAlreadyActive
	}
	return candidate, nil
}

// Get returns the active session for scopeID
func (r *Registry) Get(scopeID string) (*Session, bool) {
	v, ok := r.sessions.Load(scopeID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Stop moves the scope's session to Stopping and returns it
func (r *Registry) Stop(scopeID string) (*Session, error) {
	s, ok := r.Get(scopeID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	if err := s.beginStop(); err != nil {
		return s, err
	}
	return s, nil
}

// StopSession moves s itself to Stopping. Unlike Stop it never claims a
// newer session that has since taken over the scope.
func (r *Registry) StopSession(s *Session) error {
	if cur, ok := r.Get(s.ScopeID); !ok || cur != s {
		return ErrNoActiveSession
	}
	return s.beginStop()
}

// Release marks s Closed and frees its scope for a new session
func (r *Registry) Release(s *Session) {
	s.SetState(StateClosed)
	r.sessions.CompareAndDelete(s.ScopeID, s)
}

// Active lists sessions that have not been released, sorted by scope
func (r *Registry) Active() []*Session {
	var out []*Session
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeID < out[j].ScopeID })
	return out
}

// Dir returns the working directory for one session
func Dir(dataDir, scopeID, sessionID string) string {
	return filepath.Join(dataDir, SafeName(scopeID), sessionID)
}

// SafeName makes an identifier usable as a single path element
func SafeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}
