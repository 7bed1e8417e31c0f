package recorder

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

	"github.com/lexiqai/voice-scribe/internal/delivery"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/orchestrator"
	"github.com/lexiqai/voice-scribe/internal/summarize"
	"github.com/lexiqai/voice-scribe/internal/syncx"
	"github.com/lexiqai/voice-scribe/internal/transcode"
	"github.com/rs/zerolog"
)

// Track is one participant's audio awaiting processing
type Track struct {
	ParticipantID string
	Label         string
	Order         int
	Source        string // raw s16le capture, or an encoded file when Encoded is set
	Encoded       bool   // Source is a container file (imports) and is left in place
}

// Fragment is the processing result for one track
type Fragment struct {
	Track   Track
	Text    string
	Outcome orchestrator.Outcome
	Empty   bool  // nothing was captured
	Err     error // transcode or transcription failure
	Failed  []int // failed segment indexes on a partial transcript
	Kept    string
}

// OK reports whether the fragment contributes text to the transcript
func (f *Fragment) OK() bool {
	return f.Err == nil && !f.Empty && f.Outcome != orchestrator.OutcomeFailed
}

// Job describes one batch of tracks to turn into a transcript
type Job struct {
	ScopeID   string
	SessionID string
	Title     string
	StartedAt time.Time
	WorkDir   string // artifacts and segments are written here
	OutputDir string
	Tracks    []Track
}

// Report is the outcome of a processed job
type Report struct {
	Transcript string
	Summary    summarize.Result
	Fragments  []*Fragment
	Files      []delivery.Attachment
}

// Succeeded counts fragments that produced text
func (r *Report) Succeeded() int {
	n := 0
	for _, f := range r.Fragments {
		if f.OK() {
			n++
		}
	}
	return n
}

// process runs every track through transcode and transcription concurrently,
// assembles the transcript in first-speech order, summarizes it and delivers the results.
func (c *Coordinator) process(ctx context.Context, job Job, logger zerolog.Logger) *Report {
	fragments := make([]*Fragment, len(job.Tracks))
	sem := syncx.NewSemaphore(c.cfg.ProcessConcurrency)

	var wg sync.WaitGroup
	for i, track := range job.Tracks {
		wg.Add(1)
		go func(i int, track Track) {
			defer wg.Done()
			if err := sem.Acquire(ctx); err != nil {
				fragments[i] = &Fragment{Track: track, Outcome: orchestrator.OutcomeFailed, Err: err}
				return
			}
			defer sem.Release()
			fragments[i] = c.processTrack(ctx, job, track, observability.WithParticipant(logger, track.ParticipantID))
		}(i, track)
	}
	wg.Wait()

	sort.SliceStable(fragments, func(i, j int) bool { return fragments[i].Track.Order < fragments[j].Track.Order })

	report := &Report{Fragments: fragments}
	report.Transcript = assembleTranscript(fragments)

	for _, f := range fragments {
		if notice := failureNotice(f); notice != "" {
			c.deps.Reporter.Failure(ctx, job.ScopeID, job.SessionID, "%s", notice)
		}
	}

	report.Summary = summarize.Dispatch(ctx, c.deps.Summarizer, report.Transcript, logger)
	c.deliver(ctx, job, report, logger)
	return report
}

// processTrack turns one track into a fragment. The raw source is removed only once it is
// folded into an artifact; the artifact is removed once transcription completes.
func (c *Coordinator) processTrack(ctx context.Context, job Job, track Track, logger zerolog.Logger) *Fragment {
	frag := &Fragment{Track: track}

	base := strings.TrimSuffix(filepath.Base(track.Source), filepath.Ext(track.Source))
	artifact := filepath.Join(job.WorkDir, base+".mp3")

	var err error
	if track.Encoded {
		err = c.deps.Transcoder.TranscodeFile(ctx, track.Source, artifact)
	} else {
		err = c.deps.Transcoder.Transcode(ctx, track.Source, artifact)
	}

	switch {
	case errors.Is(err, transcode.ErrEmptyCapture):
		logger.Info().Msg("empty capture, skipping")
		frag.Empty = true
		if !track.Encoded {
			removeFile(track.Source, logger)
		}
		return frag
	case err != nil:
		logger.Error().Err(err).Msg("transcode failed")
		frag.Err = err
		frag.Outcome = orchestrator.OutcomeFailed
		os.Remove(artifact)
		if !track.Encoded {
			frag.Kept = c.preserve(track.Source, job.OutputDir, logger)
		}
		return frag
	}

	if !track.Encoded {
		removeFile(track.Source, logger)
	}

	res := c.deps.Orchestrator.Transcribe(ctx, artifact)
	frag.Text = res.Text
	frag.Outcome = res.Outcome
	frag.Failed = res.FailedSegments
	if res.Outcome == orchestrator.OutcomeFailed {
		frag.Err = res.Err
	}

	// A cancelled run leaves the artifact for a later attempt rather than losing the audio
	if ctx.Err() != nil && res.Outcome == orchestrator.OutcomeFailed {
		frag.Kept = c.preserve(artifact, job.OutputDir, logger)
	} else {
		removeFile(artifact, logger)
	}

	logger.Info().
		Str("outcome", res.Outcome.String()).
		Str("path", string(res.Path)).
		Int("chars", len(res.Text)).
		Msg("participant transcribed")
	return frag
}

// assembleTranscript labels each successful fragment and joins them in first-speech order
func assembleTranscript(fragments []*Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if !f.OK() || text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", f.Track.Label, text)
	}
	return b.String()
}

func failureNotice(f *Fragment) string {
	label := f.Track.Label
	switch {
	case f.Empty:
		return fmt.Sprintf("No audio was captured for **%s**.", label)
	case f.Err != nil && f.Kept != "":
		return fmt.Sprintf("Transcription failed for **%s**: %v. Audio kept at `%s`.", label, f.Err, f.Kept)
	case f.Err != nil:
		return fmt.Sprintf("Transcription failed for **%s**: %v", label, f.Err)
	case f.Outcome == orchestrator.OutcomePartial:
		return fmt.Sprintf("Transcript for **%s** is incomplete: %d segment(s) could not be transcribed.", label, len(f.Failed))
	}
	return ""
}

// deliver writes the output documents and reports transcript and summary
func (c *Coordinator) deliver(ctx context.Context, job Job, report *Report, logger zerolog.Logger) {
	reporter := c.deps.Reporter

	if report.Transcript == "" {
		reporter.Status(ctx, job.ScopeID, job.SessionID,
			"No transcript was produced for %s: every participant was empty or failed.", job.Title)
	} else {
		header := fmt.Sprintf("# %s\n\n_Recorded %s, %d participant(s)_\n\n",
			job.Title, job.StartedAt.Format("2006-01-02 15:04 MST"), report.Succeeded())

		files, err := delivery.WriteDocument(job.OutputDir, "transcript", job.Title, header+report.Transcript, c.cfg.WriteDocx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to write transcript documents")
		}
		report.Files = append(report.Files, files...)

		reporter.Report(ctx, delivery.Message{
			ScopeID:     job.ScopeID,
			SessionID:   job.SessionID,
			Kind:        delivery.KindTranscript,
			Content:     report.Transcript,
			Attachments: files,
		})
	}

	switch report.Summary.Status {
	case summarize.StatusDone:
		files, err := delivery.WriteDocument(job.OutputDir, "summary", "Summary: "+job.Title, report.Summary.Text, c.cfg.WriteDocx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to write summary documents")
		}
		report.Files = append(report.Files, files...)

		reporter.Report(ctx, delivery.Message{
			ScopeID:     job.ScopeID,
			SessionID:   job.SessionID,
			Kind:        delivery.KindSummary,
			Content:     report.Summary.Text,
			Attachments: files,
		})
	case summarize.StatusSkipped:
		reporter.Status(ctx, job.ScopeID, job.SessionID, "Summary skipped: there was no transcript text to summarize.")
	case summarize.StatusFailed:
		reporter.Failure(ctx, job.ScopeID, job.SessionID, "Summary failed: %v", report.Summary.Err)
	}
}

// preserve moves a file the pipeline could not finish into OutputDir/unprocessed
func (c *Coordinator) preserve(path, outputDir string, logger zerolog.Logger) string {
	dir := filepath.Join(outputDir, "unprocessed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error().Err(err).Str("file", path).Msg("failed to preserve unprocessed audio")
		return path
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		logger.Error().Err(err).Str("file", path).Msg("failed to preserve unprocessed audio")
		return path
	}
	return dest
}

func removeFile(path string, logger zerolog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("file", path).Msg("failed to remove file")
	}
}
