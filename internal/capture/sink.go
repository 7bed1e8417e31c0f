package capture

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
)

var errSinkClosed = errors.New("capture file already closed")

// sink is one pipeline run's handle on a participant's raw file.
// Close may be called by a forced finalize while the pipeline is writing;
// once it returns no further bytes reach the file.
type sink struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func newSink(f *os.File) *sink {
	return &sink{f: f, w: bufio.NewWriterSize(f, 64*1024)}
}

func (s *sink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	_, err := s.w.Write(pcm)
	return err
}

// Flush pushes buffered audio to disk. Sync failures are returned separately
// since they do not lose data already written.
func (s *sink) Flush() (flushErr, syncErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}
	if err := s.w.Flush(); err != nil {
		return err, nil
	}
	return nil, s.f.Sync()
}

// Close flushes, syncs and closes the file. Only the first call does any work.
func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := s.f.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	return errors.Join(errs...)
}
