package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/rs/zerolog"
)

// ErrEmptyCapture marks a raw capture with no audio bytes
var ErrEmptyCapture = errors.New("empty capture")

// EmptyCaptureError reports a zero-byte raw capture, which never reaches ffmpeg
type EmptyCaptureError struct {
	Path string
}

func (e *EmptyCaptureError) Error() string {
	return fmt.Sprintf("empty capture: %s has no audio", e.Path)
}

// Is lets errors.Is match ErrEmptyCapture
func (e *EmptyCaptureError) Is(target error) bool {
	return target == ErrEmptyCapture
}

const segmentPattern = "part_%03d.mp3"

// Config controls encoding, timeouts and segmentation
type Config struct {
	FFmpegPath       string
	Bitrate          string // e.g. "48k"
	InputSampleRate  int    // raw capture format
	InputChannels    int
	OutputSampleRate int // artifact format
	OutputChannels   int
	MinTimeout       time.Duration
	MaxTimeout       time.Duration
	TimeoutPerMB     time.Duration
	SegmentSeconds   int
}

// Engine converts raw captures to compressed artifacts and splits large artifacts into segments
type Engine struct {
	cfg    Config
	exec   Executor
	logger zerolog.Logger
}

// NewEngine creates a transcode engine
func NewEngine(cfg Config, exec Executor, logger zerolog.Logger) *Engine {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Engine{
		cfg:    cfg,
		exec:   exec,
		logger: logger.With().Str("component", "transcode").Logger(),
	}
}

// Timeout scales the conversion deadline with input size, clamped to [MinTimeout, MaxTimeout]
func (e *Engine) Timeout(size int64) time.Duration {
	const mb = 1 << 20
	d := e.cfg.MinTimeout + time.Duration(float64(e.cfg.TimeoutPerMB)*float64(size)/mb)
	if d < e.cfg.MinTimeout {
		d = e.cfg.MinTimeout
	}
	if e.cfg.MaxTimeout > 0 && d > e.cfg.MaxTimeout {
		d = e.cfg.MaxTimeout
	}
	return d
}

// Transcode encodes one raw s16le capture into a speech-tuned MP3 artifact at outPath
func (e *Engine) Transcode(ctx context.Context, rawPath, outPath string) error {
	size, err := inputSize(rawPath)
	if err != nil {
		return err
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(e.cfg.InputSampleRate),
		"-ac", strconv.Itoa(e.cfg.InputChannels),
		"-i", rawPath,
	}
	args = append(args, e.encodeArgs(outPath)...)

	return e.run(ctx, "encode", size, args)
}

// TranscodeFile encodes an arbitrary container file (wav, m4a, ...) into an artifact
func (e *Engine) TranscodeFile(ctx context.Context, inPath, outPath string) error {
	size, err := inputSize(inPath)
	if err != nil {
		return err
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-vn", // No video
	}
	args = append(args, e.encodeArgs(outPath)...)

	return e.run(ctx, "encode", size, args)
}

func (e *Engine) encodeArgs(outPath string) []string {
	return []string{
		"-ac", strconv.Itoa(e.cfg.OutputChannels),
		"-ar", strconv.Itoa(e.cfg.OutputSampleRate),
		"-c:a", "libmp3lame",
		"-b:a", e.cfg.Bitrate,
		"-y",
		outPath,
	}
}

// Split cuts an artifact into fixed-duration segments in segDir using stream copy.
// Each segment has reset timestamps so it decodes on its own.
func (e *Engine) Split(ctx context.Context, artifactPath, segDir string) ([]string, error) {
	size, err := inputSize(artifactPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment dir: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", artifactPath,
		"-f", "segment",
		"-segment_time", strconv.Itoa(e.cfg.SegmentSeconds),
		"-c", "copy",
		"-reset_timestamps", "1",
		"-y",
		filepath.Join(segDir, segmentPattern),
	}
	if err := e.run(ctx, "split", size, args); err != nil {
		return nil, err
	}

	segments := DiscoverSegments(segDir)
	if len(segments) == 0 {
		return nil, fmt.Errorf("split of %s produced no segments", filepath.Base(artifactPath))
	}
	return segments, nil
}

// DiscoverSegments probes part_000, part_001, ... and stops at the first missing index
func DiscoverSegments(segDir string) []string {
	var segments []string
	for i := 0; ; i++ {
		p := filepath.Join(segDir, fmt.Sprintf(segmentPattern, i))
		if _, err := os.Stat(p); err != nil {
			return segments
		}
		segments = append(segments, p)
	}
}

// Check reports whether the ffmpeg binary is runnable
func (e *Engine) Check(ctx context.Context) (bool, error) {
	if _, err := e.exec.Execute(ctx, e.cfg.FFmpegPath, "-hide_banner", "-version"); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) run(ctx context.Context, op string, size int64, args []string) error {
	timeout := e.Timeout(size)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := e.exec.Execute(ctx, e.cfg.FFmpegPath, args...)
	observability.ObserveTranscode(op, time.Since(start))

	if err != nil {
		observability.RecordError(op, "transcode")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg %s timed out after %v: %w", op, timeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("ffmpeg %s: %w", op, err)
	}

	e.logger.Debug().
		Str("op", op).
		Int64("input_bytes", size).
		Dur("elapsed", time.Since(start)).
		Msg("ffmpeg finished")
	return nil
}

// inputSize stats path and rejects zero-byte input
func inputSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat input: %w", err)
	}
	if st.Size() == 0 {
		return 0, &EmptyCaptureError{Path: path}
	}
	return st.Size(), nil
}
