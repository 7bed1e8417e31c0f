package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/lexiqai/voice-scribe/internal/stt"
	"github.com/rs/zerolog"
)

const mb = 1 << 20

// fakeTranscriber answers per file name; unknown files succeed with "text:<name>"
type fakeTranscriber struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error // base name -> error returned on every call
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{calls: map[string]int{}, failures: map[string]error{}}
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	name := filepath.Base(path)
	f.mu.Lock()
	f.calls[name]++
	err := f.failures[name]
	f.mu.Unlock()

	if _, statErr := os.Stat(path); statErr != nil {
		return "", fmt.Errorf("file missing at transcription time: %w", statErr)
	}
	if err != nil {
		return "", err
	}
	return "text:" + name, nil
}

func (f *fakeTranscriber) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// fakeSplitter writes n segment files
type fakeSplitter struct {
	n      int
	err    error
	called int
	paths  []string
}

func (s *fakeSplitter) Split(ctx context.Context, artifactPath, segDir string) ([]string, error) {
	s.called++
	if s.err != nil {
		return nil, s.err
	}
	os.MkdirAll(segDir, 0o755)
	for i := 0; i < s.n; i++ {
		p := filepath.Join(segDir, fmt.Sprintf("part_%03d.mp3", i))
		os.WriteFile(p, []byte("seg"), 0o644)
		s.paths = append(s.paths, p)
	}
	return s.paths, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestOrchestrator(tr *fakeTranscriber, sp *fakeSplitter, rec *sleepRecorder) *Orchestrator {
	retry := resilience.DefaultRetryConfig()
	retry.Sleep = rec.sleep
	return New(tr, sp, Config{
		ChunkThreshold:     12 * mb,
		SegmentConcurrency: 2,
		Retry:              retry,
	}, zerolog.Nop())
}

func artifactOfSize(t *testing.T, size int64) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "00_alice.mp3")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return p
}

func TestTranscribe_WholeFileSuccess(t *testing.T) {
	tr := newFakeTranscriber()
	sp := &fakeSplitter{n: 2}
	o := newTestOrchestrator(tr, sp, &sleepRecorder{})

	res := o.Transcribe(context.Background(), artifactOfSize(t, 1*mb))

	if res.Outcome != OutcomeDone || res.Path != PathWhole {
		t.Fatalf("Expected whole-file done, got %+v", res)
	}
	if res.Text != "text:00_alice.mp3" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if sp.called != 0 {
		t.Error("Expected no split on whole-file success")
	}
}

func TestTranscribe_AboveThresholdSkipsWholeFile(t *testing.T) {
	tr := newFakeTranscriber()
	sp := &fakeSplitter{n: 2}
	o := newTestOrchestrator(tr, sp, &sleepRecorder{})

	res := o.Transcribe(context.Background(), artifactOfSize(t, 15*mb))

	if n := tr.count("00_alice.mp3"); n != 0 {
		t.Errorf("Expected whole-file transcription never attempted, got %d calls", n)
	}
	if res.Path != PathChunked || res.Outcome != OutcomeDone {
		t.Fatalf("Expected chunked done, got %+v", res)
	}
	if res.Text != "text:part_000.mp3\ntext:part_001.mp3" {
		t.Errorf("Expected segment text in order, got %q", res.Text)
	}
}

func TestTranscribe_ThreeTransientFailures(t *testing.T) {
	tr := newFakeTranscriber()
	tr.failures["00_alice.mp3"] = errors.New("connection reset by peer")
	sp := &fakeSplitter{err: errors.New("split failed")}
	rec := &sleepRecorder{}
	o := newTestOrchestrator(tr, sp, rec)

	res := o.Transcribe(context.Background(), artifactOfSize(t, 1*mb))

	if n := tr.count("00_alice.mp3"); n != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", n)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(rec.delays) != len(want) || rec.delays[0] != want[0] || rec.delays[1] != want[1] {
		t.Errorf("Expected delays %v, got %v", want, rec.delays)
	}
	if res.Outcome != OutcomeFailed || res.Text != "" {
		t.Errorf("Expected failed with no text, got %+v", res)
	}
}

func TestTranscribe_TerminalFailureFallsBackWithoutRetry(t *testing.T) {
	tr := newFakeTranscriber()
	tr.failures["00_alice.mp3"] = resilience.NewTerminalError(errors.New("payload too large"))
	sp := &fakeSplitter{n: 1}
	rec := &sleepRecorder{}
	o := newTestOrchestrator(tr, sp, rec)

	res := o.Transcribe(context.Background(), artifactOfSize(t, 1*mb))

	if n := tr.count("00_alice.mp3"); n != 1 {
		t.Errorf("Expected one whole-file attempt, got %d", n)
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no backoff for terminal error, got %v", rec.delays)
	}
	if res.Path != PathChunked || res.Outcome != OutcomeDone || res.Text != "text:part_000.mp3" {
		t.Errorf("Expected chunked fallback to succeed, got %+v", res)
	}
}

func TestTranscribe_FailedSegmentIsSkipped(t *testing.T) {
	tr := newFakeTranscriber()
	tr.failures["part_001.mp3"] = errors.New("i/o timeout")
	sp := &fakeSplitter{n: 3}
	o := newTestOrchestrator(tr, sp, &sleepRecorder{})

	res := o.Transcribe(context.Background(), artifactOfSize(t, 20*mb))

	if res.Outcome != OutcomePartial {
		t.Fatalf("Expected partial, got %s", res.Outcome)
	}
	if res.Text != "text:part_000.mp3\ntext:part_002.mp3" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if len(res.FailedSegments) != 1 || res.FailedSegments[0] != 1 {
		t.Errorf("Expected segment 1 failed, got %v", res.FailedSegments)
	}
	if n := tr.count("part_001.mp3"); n != 3 {
		t.Errorf("Expected 3 attempts on failing segment, got %d", n)
	}
}

func TestTranscribe_AllSegmentsFail(t *testing.T) {
	tr := newFakeTranscriber()
	for i := 0; i < 2; i++ {
		tr.failures[fmt.Sprintf("part_%03d.mp3", i)] = resilience.NewTerminalError(errors.New("bad audio"))
	}
	o := newTestOrchestrator(tr, &fakeSplitter{n: 2}, &sleepRecorder{})

	res := o.Transcribe(context.Background(), artifactOfSize(t, 20*mb))
	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Errorf("Expected failed outcome with error, got %+v", res)
	}
}

func TestTranscribe_OpenBreakerKeepsEachSegmentRetryBudget(t *testing.T) {
	tr := newFakeTranscriber()
	for i := 0; i < 3; i++ {
		tr.failures[fmt.Sprintf("part_%03d.mp3", i)] = errors.New("connection reset by peer")
	}
	guarded := stt.NewGuarded(tr, 5, 30*time.Second)

	rec := &sleepRecorder{}
	retry := resilience.DefaultRetryConfig()
	retry.Sleep = rec.sleep
	o := New(guarded, &fakeSplitter{n: 3}, Config{
		ChunkThreshold:     12 * mb,
		SegmentConcurrency: 1,
		Retry:              retry,
	}, zerolog.Nop())

	res := o.Transcribe(context.Background(), artifactOfSize(t, 20*mb))

	if res.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", res.Outcome)
	}
	total := 0
	for i := 0; i < 3; i++ {
		n := tr.count(fmt.Sprintf("part_%03d.mp3", i))
		if n != 3 {
			t.Errorf("part_%03d: expected 3 attempts, got %d", i, n)
		}
		total += n
	}
	if total != 9 {
		t.Errorf("Expected 9 provider attempts, got %d", total)
	}
	if guarded.Breaker().GetState() != resilience.StateOpen {
		t.Errorf("Expected breaker to report open, got %s", guarded.Breaker().GetState())
	}
}

func TestTranscribe_SegmentsDeletedAfterAttempt(t *testing.T) {
	tr := newFakeTranscriber()
	tr.failures["part_000.mp3"] = resilience.NewTerminalError(errors.New("bad audio"))
	sp := &fakeSplitter{n: 3}
	o := newTestOrchestrator(tr, sp, &sleepRecorder{})

	artifact := artifactOfSize(t, 20*mb)
	o.Transcribe(context.Background(), artifact)

	for _, p := range sp.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Expected segment %s removed, stat err %v", p, err)
		}
	}
	if _, err := os.Stat(artifact + ".segments"); !os.IsNotExist(err) {
		t.Errorf("Expected segment dir removed, stat err %v", err)
	}
}

func TestTranscribe_MissingArtifact(t *testing.T) {
	o := newTestOrchestrator(newFakeTranscriber(), &fakeSplitter{}, &sleepRecorder{})

	res := o.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	if res.Outcome != OutcomeFailed {
		t.Errorf("Expected failed, got %s", res.Outcome)
	}
}
