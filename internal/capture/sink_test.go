package capture

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openSink(t *testing.T) (*sink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.pcm")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	return newSink(f), path
}

func TestSink_WriteAfterClose(t *testing.T) {
	s, path := openSink(t)

	if err := s.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Write([]byte{5, 6}); !errors.Is(err, errSinkClosed) {
		t.Errorf("Expected errSinkClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if flushErr, syncErr := s.Flush(); flushErr != nil || syncErr != nil {
		t.Errorf("Flush after close: %v, %v", flushErr, syncErr)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 4 {
		t.Errorf("Expected 4 bytes on disk, got %d", len(data))
	}
}

func TestSink_CloseDuringWrites(t *testing.T) {
	s, path := openSink(t)
	frame := make([]byte, 320)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			if err := s.Write(frame); err != nil {
				return
			}
			mu.Lock()
			written += len(frame)
			mu.Unlock()
		}
	}()

	for {
		mu.Lock()
		n := written
		mu.Unlock()
		if n >= 100*len(frame) {
			break
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if after.Size() != info.Size() {
		t.Errorf("File grew after Close: %d -> %d", info.Size(), after.Size())
	}
	mu.Lock()
	defer mu.Unlock()
	if int64(written) != after.Size() {
		t.Errorf("Expected every accepted write on disk, wrote %d, file has %d", written, after.Size())
	}
}
