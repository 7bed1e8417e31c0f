package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexiqai/voice-scribe/internal/capture"
	"github.com/lexiqai/voice-scribe/internal/delivery"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/orchestrator"
	"github.com/lexiqai/voice-scribe/internal/session"
	"github.com/lexiqai/voice-scribe/internal/summarize"
	"github.com/lexiqai/voice-scribe/internal/transport"
	"github.com/rs/zerolog"
)

// Transcoder converts captures and imported files into compressed artifacts
type Transcoder interface {
	Transcode(ctx context.Context, rawPath, outPath string) error
	TranscodeFile(ctx context.Context, inPath, outPath string) error
}

// ArtifactTranscriber produces the transcript of one artifact
type ArtifactTranscriber interface {
	Transcribe(ctx context.Context, artifactPath string) *orchestrator.Result
}

// Dialer connects to the upstream voice bridge for one scope
type Dialer func(ctx context.Context, bridgeURL, scopeID string) (transport.Transport, error)

// Deps are the collaborators a Coordinator drives
type Deps struct {
	Registry     *session.Registry
	Dial         Dialer
	Transcoder   Transcoder
	Orchestrator ArtifactTranscriber
	Summarizer   summarize.Summarizer // nil disables summaries
	Reporter     *delivery.Reporter
}

// Config holds coordinator policy
type Config struct {
	DataDir            string
	OutputDir          string
	DefaultBridgeURL   string
	Capture            capture.Config // Dir is set per session
	ProcessConcurrency int
	WriteDocx          bool
}

// Stop reasons
const (
	ReasonStopped       = "stopped"
	ReasonTransportLost = "transport lost"
	ReasonShutdown      = "shutdown"
)

// handle holds the live resources of one recording session
type handle struct {
	tr      transport.Transport
	capture *capture.Manager
	metrics *observability.SessionMetrics
	logger  zerolog.Logger

	manifestMu sync.Mutex
}

// Coordinator owns the lifecycle of every session: start, capture, stop, processing and release
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	handles sync.Map // session id -> *handle
	wg      sync.WaitGroup
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg Config, deps Deps, logger zerolog.Logger) *Coordinator {
	if cfg.ProcessConcurrency < 1 {
		cfg.ProcessConcurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "recorder").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Registry returns the session registry
func (c *Coordinator) Registry() *session.Registry {
	return c.deps.Registry
}

// Start begins recording scopeID from bridgeURL (or the default bridge).
// It fails with session.ErrAlreadyActive while another session for the scope exists.
func (c *Coordinator) Start(ctx context.Context, scopeID, bridgeURL string) (*session.Session, error) {
	if bridgeURL == "" {
		bridgeURL = c.cfg.DefaultBridgeURL
	}

	s, err := c.deps.Registry.TryStart(scopeID)
	if err != nil {
		return nil, err
	}
	logger := observability.WithSession(scopeID, s.ID)

	tr, err := c.deps.Dial(ctx, bridgeURL, scopeID)
	if err != nil {
		c.deps.Registry.Release(s)
		return nil, fmt.Errorf("failed to connect to voice bridge: %w", err)
	}

	capCfg := c.cfg.Capture
	capCfg.Dir = s.Dir
	m, err := capture.NewManager(tr, capCfg, logger)
	if err != nil {
		tr.Disconnect()
		c.deps.Registry.Release(s)
		return nil, err
	}

	h := &handle{
		tr:      tr,
		capture: m,
		metrics: observability.NewSessionMetrics(s.ID),
		logger:  logger,
	}
	c.handles.Store(s.ID, h)
	if err := s.Attach(m); err != nil {
		// Stopped while dialing: finish saw no capture and released the scope.
		c.handles.Delete(s.ID)
		tr.Disconnect()
		os.RemoveAll(s.Dir)
		c.deps.Registry.Release(s)
		logger.Info().Msg("session stopped before the voice bridge connected")
		return nil, err
	}

	c.writeManifest(s, h)
	m.OnParticipant(func(snap capture.Snapshot) {
		h.logger.Info().Str("participant_id", snap.ID).Str("label", snap.Label).Int("order", snap.Order).Msg("participant joined")
		c.writeManifest(s, h)
	})

	h.metrics.RecordStart()
	c.wg.Add(1)
	go c.run(s, h)

	logger.Info().Str("bridge_url", bridgeURL).Msg("session started")
	c.deps.Reporter.Status(ctx, scopeID, s.ID, "Recording started.")
	return s, nil
}

// Stop ends recording for scopeID. Captures are finalized and processed in the background;
// the returned session's Done channel closes when processing has finished.
func (c *Coordinator) Stop(ctx context.Context, scopeID string) (*session.Session, error) {
	s, err := c.deps.Registry.Stop(scopeID)
	if err != nil {
		return s, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(s, ReasonStopped)
	}()
	return s, nil
}

// run drives the capture dispatch loop until stop, transport loss or shutdown
func (c *Coordinator) run(s *session.Session, h *handle) {
	defer c.wg.Done()

	err := h.capture.Run(c.ctx)
	if err == nil {
		return
	}

	// Claim the session; if a Stop already did, its finish owns the teardown.
	if claimErr := c.deps.Registry.StopSession(s); claimErr != nil {
		return
	}

	if errors.Is(err, capture.ErrTransportLost) {
		h.logger.Error().Err(err).Msg("voice bridge lost, tearing down session")
		c.deps.Reporter.Failure(c.ctx, s.ScopeID, s.ID,
			"Connection to the voice bridge was lost and could not be restored. Processing what was captured.")
		c.finish(s, ReasonTransportLost)
		return
	}

	// Shutdown: keep captures on disk for recovery
	h.logger.Warn().Err(err).Str("reason", ReasonShutdown).Msg("session interrupted, leaving captures for recovery")
	h.capture.StopAll()
	h.tr.Disconnect()
	c.writeManifest(s, h)
	h.metrics.RecordEnd("interrupted")
	c.handles.Delete(s.ID)
	c.deps.Registry.Release(s)
}

// finish finalizes every capture, processes the session and releases its scope
func (c *Coordinator) finish(s *session.Session, reason string) {
	// No capture attached means Start is still dialing; it tears down on its own.
	if s.Capture() == nil {
		c.deps.Registry.Release(s)
		return
	}
	v, ok := c.handles.Load(s.ID)
	if !ok {
		c.deps.Registry.Release(s)
		return
	}
	h := v.(*handle)
	defer c.handles.Delete(s.ID)

	h.logger.Info().Str("reason", reason).Msg("stopping session")
	h.capture.StopAll()
	if err := h.tr.Disconnect(); err != nil {
		h.logger.Warn().Err(err).Msg("transport disconnect failed")
	}

	s.SetState(session.StateProcessing)
	c.writeManifest(s, h)

	snaps := h.capture.Participants()
	tracks := make([]Track, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Err != nil {
			h.logger.Warn().Err(snap.Err).Str("participant_id", snap.ID).Msg("capture ended with error, processing partial audio")
		}
		tracks = append(tracks, Track{
			ParticipantID: snap.ID,
			Label:         snap.Label,
			Order:         snap.Order,
			Source:        snap.RawPath,
		})
	}

	c.deps.Reporter.Status(c.ctx, s.ScopeID, s.ID,
		"Recording ended (%s) after %s. Processing %d participant(s).", reason, time.Since(s.StartedAt).Round(time.Second), len(tracks))

	report := c.process(c.ctx, Job{
		ScopeID:   s.ScopeID,
		SessionID: s.ID,
		Title:     "Session " + s.ScopeID,
		StartedAt: s.StartedAt,
		WorkDir:   s.Dir,
		OutputDir: c.outputDir(s.ScopeID, s.ID),
		Tracks:    tracks,
	}, h.logger)

	outcome := "completed"
	if reason == ReasonTransportLost || (len(tracks) > 0 && report.Succeeded() == 0) {
		outcome = "failed"
	}
	h.metrics.RecordEnd(outcome)

	c.cleanupSession(s, report, h.logger)
	c.deps.Registry.Release(s)
	h.logger.Info().Str("outcome", outcome).Int("participants", len(tracks)).Msg("session closed")
}

// cleanupSession removes the session directory unless processing was cut short
// or audio could not be moved out of it
func (c *Coordinator) cleanupSession(s *session.Session, report *Report, logger zerolog.Logger) {
	if c.ctx.Err() != nil {
		logger.Warn().Msg("processing cancelled, keeping session directory for recovery")
		return
	}
	if keptInside(report, s.Dir) {
		logger.Warn().Msg("unprocessed audio left in session directory")
		return
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		logger.Warn().Err(err).Msg("failed to remove session directory")
	}
	os.Remove(filepath.Dir(s.Dir)) // scope dir, only if empty
}

func (c *Coordinator) writeManifest(s *session.Session, h *handle) {
	h.manifestMu.Lock()
	defer h.manifestMu.Unlock()

	m := &session.Manifest{
		ScopeID:    s.ScopeID,
		SessionID:  s.ID,
		StartedAt:  s.StartedAt,
		State:      s.State().String(),
		SampleRate: c.cfg.Capture.SampleRate,
		Channels:   c.cfg.Capture.Channels,
	}
	for _, snap := range h.capture.Participants() {
		m.Participants = append(m.Participants, session.ManifestParticipant{
			ID:      snap.ID,
			Label:   snap.Label,
			Order:   snap.Order,
			RawFile: filepath.Base(snap.RawPath),
		})
	}

	if err := session.WriteManifest(s.Dir, m); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write manifest")
	}
}

func (c *Coordinator) outputDir(scopeID, sessionID string) string {
	return filepath.Join(c.cfg.OutputDir, session.SafeName(scopeID), sessionID)
}

// Close stops every recording session, waits for processing to finish, and cancels
// outstanding work once ctx expires
func (c *Coordinator) Close(ctx context.Context) error {
	for _, s := range c.deps.Registry.Active() {
		if s.State() == session.StateRecording {
			if _, err := c.Stop(ctx, s.ScopeID); err != nil && !errors.Is(err, session.ErrAlreadyStopping) {
				c.logger.Warn().Err(err).Str("scope_id", s.ScopeID).Msg("failed to stop session on shutdown")
			}
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}
