package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/lexiqai/voice-scribe/internal/stt"
	"github.com/lexiqai/voice-scribe/internal/syncx"
	"github.com/rs/zerolog"
)

// Config holds the transcription policy
type Config struct {
	ChunkThreshold     int64 // Artifacts larger than this skip the whole-file attempt
	SegmentConcurrency int
	Retry              *resilience.RetryConfig
}

// Orchestrator transcribes compressed artifacts, whole-file first with a chunked fallback
type Orchestrator struct {
	stt      stt.Transcriber
	splitter Splitter
	cfg      Config
	logger   zerolog.Logger
}

// New creates a transcription orchestrator
func New(transcriber stt.Transcriber, splitter Splitter, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.SegmentConcurrency < 1 {
		cfg.SegmentConcurrency = 1
	}
	return &Orchestrator{
		stt:      transcriber,
		splitter: splitter,
		cfg:      cfg,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Transcribe produces the transcript for one artifact. It never returns a Go error:
// failures are reported through Result.Outcome and Result.Err.
func (o *Orchestrator) Transcribe(ctx context.Context, artifactPath string) *Result {
	res := o.transcribe(ctx, artifactPath)
	observability.RecordTranscription(res.Outcome.String(), string(res.Path))
	return res
}

func (o *Orchestrator) transcribe(ctx context.Context, artifactPath string) *Result {
	st, err := os.Stat(artifactPath)
	if err != nil {
		return &Result{Outcome: OutcomeFailed, Path: PathWhole, Err: fmt.Errorf("stat artifact: %w", err)}
	}

	logger := o.logger.With().Str("artifact", artifactPath).Int64("bytes", st.Size()).Logger()

	if st.Size() > o.cfg.ChunkThreshold {
		logger.Info().Int64("threshold", o.cfg.ChunkThreshold).Msg("artifact above chunk threshold, splitting proactively")
		return o.chunked(ctx, artifactPath, logger)
	}

	text, err := o.call(ctx, artifactPath, logger)
	if err == nil {
		return &Result{Text: text, Outcome: OutcomeDone, Path: PathWhole}
	}
	if ctx.Err() != nil {
		return &Result{Outcome: OutcomeFailed, Path: PathWhole, Err: err}
	}

	logger.Warn().Err(err).Msg("whole-file transcription failed, falling back to chunks")
	res := o.chunked(ctx, artifactPath, logger)
	if res.Err == nil {
		res.Err = err
	}
	return res
}

// chunked splits the artifact and transcribes every segment concurrently.
// Segment text is joined in segment order; failed segments are skipped.
func (o *Orchestrator) chunked(ctx context.Context, artifactPath string, logger zerolog.Logger) *Result {
	segDir := artifactPath + ".segments"
	defer os.RemoveAll(segDir)

	segments, err := o.splitter.Split(ctx, artifactPath, segDir)
	if err != nil {
		logger.Error().Err(err).Msg("failed to split artifact")
		return &Result{Outcome: OutcomeFailed, Path: PathChunked, Err: err}
	}

	texts := make([]string, len(segments))
	errs := make([]error, len(segments))
	sem := syncx.NewSemaphore(o.cfg.SegmentConcurrency)

	var wg sync.WaitGroup
	for i, seg := range segments {
		wg.Add(1)
		go func(i int, seg string) {
			defer wg.Done()
			defer o.removeSegment(seg, logger)

			if err := sem.Acquire(ctx); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release()

			texts[i], errs[i] = o.call(ctx, seg, logger.With().Int("segment", i).Logger())
		}(i, seg)
	}
	wg.Wait()

	res := &Result{Path: PathChunked, Segments: len(segments)}
	var parts []string
	for i := range segments {
		if errs[i] != nil {
			logger.Warn().Err(errs[i]).Int("segment", i).Msg("segment yielded no text")
			res.FailedSegments = append(res.FailedSegments, i)
			res.Err = errs[i]
			continue
		}
		if t := strings.TrimSpace(texts[i]); t != "" {
			parts = append(parts, t)
		}
	}
	res.Text = strings.Join(parts, "\n")

	switch {
	case len(res.FailedSegments) == 0:
		res.Outcome = OutcomeDone
	case len(res.FailedSegments) == len(segments):
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomePartial
	}

	logger.Info().
		Int("segments", len(segments)).
		Int("failed", len(res.FailedSegments)).
		Str("outcome", res.Outcome.String()).
		Msg("chunked transcription finished")
	return res
}

// call runs one transcription with the bounded retry policy
func (o *Orchestrator) call(ctx context.Context, path string, logger zerolog.Logger) (string, error) {
	rc := *o.cfg.Retry
	onRetry := rc.OnRetry
	rc.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("transcription attempt failed, retrying")
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	var text string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		t, err := o.stt.Transcribe(ctx, path)
		if err != nil {
			return err
		}
		text = t
		return nil
	}, &rc)

	var exhausted *resilience.ExhaustedError
	if errors.As(err, &exhausted) {
		observability.RecordError("retries_exhausted", "orchestrator")
	}
	return text, err
}

func (o *Orchestrator) removeSegment(path string, logger zerolog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("segment", path).Msg("failed to remove segment")
	}
}
