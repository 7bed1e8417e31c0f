// Package inbox transcribes audio files dropped into a watched directory.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lexiqai/voice-scribe/internal/syncx"
	"github.com/rs/zerolog"
)

const (
	doneDir   = "done"
	failedDir = "failed"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
	".webm": true,
}

// Handler processes one file; a nil error moves it to done/, anything else to failed/
type Handler func(ctx context.Context, path string) error

// Config controls the watcher
type Config struct {
	Dir           string
	MaxConcurrent int
	SettleDelay   time.Duration // wait for the size to stop changing before processing
}

// Watcher feeds new audio files in Dir to a Handler
type Watcher struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	sem     *syncx.Semaphore

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// New creates a watcher on cfg.Dir, creating it and its done/failed subdirectories
func New(cfg Config, handler Handler, logger zerolog.Logger) (*Watcher, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	for _, d := range []string{cfg.Dir, filepath.Join(cfg.Dir, doneDir), filepath.Join(cfg.Dir, failedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create inbox dir: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	return &Watcher{
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With().Str("component", "inbox").Logger(),
		watcher:  fw,
		sem:      syncx.NewSemaphore(cfg.MaxConcurrent),
		inflight: make(map[string]bool),
	}, nil
}

// Run picks up files already in the inbox, then processes new ones until ctx is done.
// It waits for in-flight files before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.logger.Info().Str("dir", w.cfg.Dir).Int("max_concurrent", w.cfg.MaxConcurrent).Msg("inbox watcher started")

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.dispatch(ctx, filepath.Join(w.cfg.Dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info().Msg("inbox watcher stopped")
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.wg.Wait()
				return errors.New("watcher events channel closed")
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.dispatch(ctx, event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.wg.Wait()
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// dispatch starts processing path unless it is not audio or is already being handled
func (w *Watcher) dispatch(ctx context.Context, path string) {
	if !IsAudioFile(path) {
		w.logger.Debug().Str("file", path).Msg("ignoring non-audio file")
		return
	}

	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return
	}
	w.inflight[path] = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inflight, path)
			w.mu.Unlock()
		}()

		w.process(ctx, path)
	}()
}

func (w *Watcher) process(ctx context.Context, path string) {
	logger := w.logger.With().Str("file", path).Logger()

	if err := w.waitSettled(ctx, path); err != nil {
		if !os.IsNotExist(err) && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("file never settled")
		}
		return
	}

	if err := w.sem.Acquire(ctx); err != nil {
		return
	}
	defer w.sem.Release()

	logger.Info().Msg("new audio file detected")
	start := time.Now()
	err := w.handler(ctx, path)
	if ctx.Err() != nil {
		// interrupted; leave the file for the next run
		return
	}

	dest := doneDir
	if err != nil {
		logger.Error().Err(err).Msg("failed to process inbox file")
		dest = failedDir
	} else {
		logger.Info().Dur("duration", time.Since(start)).Msg("inbox file processed")
	}

	target := filepath.Join(w.cfg.Dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		logger.Error().Err(err).Str("target", target).Msg("failed to move inbox file")
	}
}

// waitSettled blocks until the file size is unchanged across one SettleDelay
func (w *Watcher) waitSettled(ctx context.Context, path string) error {
	last := int64(-1)
	for {
		st, err := os.Stat(path)
		if err != nil {
			return err
		}
		if st.Size() == last && st.Size() > 0 {
			return nil
		}
		last = st.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.SettleDelay):
		}
	}
}

// IsAudioFile reports whether path has a supported audio extension
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}
