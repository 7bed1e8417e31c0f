package capture

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lexiqai/voice-scribe/internal/audio"
	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/lexiqai/voice-scribe/internal/transport"
	"github.com/lexiqai/voice-scribe/internal/transport/transporttest"
	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T, tr transport.Transport, finalizeTimeout time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(tr, Config{
		Dir:             t.TempDir(),
		SampleRate:      8000,
		Channels:        1,
		FlushInterval:   20 * time.Millisecond,
		FinalizeTimeout: finalizeTimeout,
		SpeechThreshold: 500,
		Reconnect:       &resilience.ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func runManager(t *testing.T, m *Manager) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background()) }()
	return errc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pcmFrame(samples ...int16) transport.Frame {
	return transport.Frame{
		Format:  audio.Format{Codec: audio.CodecPCM16, SampleRate: 8000, Channels: 1},
		Payload: audio.SamplesToBytes(samples),
	}
}

func participantCount(m *Manager) func() bool {
	return func() bool { return len(m.Participants()) > 0 }
}

func TestManager_DuplicateSpeakingIsNoop(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)
	runManager(t, m)

	for i := 0; i < 5; i++ {
		tr.Speak("u1", "Alice")
	}
	tr.Speak("u2", "Bob")
	waitFor(t, "two participants", func() bool { return len(m.Participants()) == 2 })

	if n := tr.SubscribeCount("u1"); n != 1 {
		t.Errorf("Expected exactly one subscription for u1, got %d", n)
	}

	m.StopAll()
}

func TestManager_AppendsFramesInOrder(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)
	runManager(t, m)

	tr.Speak("u1", "Alice")
	waitFor(t, "participant", participantCount(m))

	for i := int16(1); i <= 3; i++ {
		if !tr.Send("u1", pcmFrame(i, i)) {
			t.Fatal("Send failed")
		}
	}

	m.StopAll()

	parts := m.Participants()
	if len(parts) != 1 {
		t.Fatalf("Expected 1 participant, got %d", len(parts))
	}
	if parts[0].State != StateClosed {
		t.Errorf("Expected Closed after StopAll, got %s", parts[0].State)
	}

	data, err := os.ReadFile(parts[0].RawPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	samples, _ := audio.BytesToSamples(data)
	want := []int16{1, 1, 2, 2, 3, 3}
	if len(samples) != len(want) {
		t.Fatalf("Expected %v, got %v", want, samples)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, samples)
		}
	}
	if parts[0].Bytes != int64(len(data)) {
		t.Errorf("Expected byte count %d, got %d", len(data), parts[0].Bytes)
	}
}

func TestManager_FirstSpeechOrder(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)
	runManager(t, m)

	tr.Speak("carol", "Carol")
	tr.Speak("alice", "Alice")
	tr.Speak("bob", "Bob")
	tr.Speak("carol", "Carol")
	waitFor(t, "three participants", func() bool { return len(m.Participants()) == 3 })
	m.StopAll()

	parts := m.Participants()
	want := []string{"carol", "alice", "bob"}
	for i, id := range want {
		if parts[i].ID != id || parts[i].Order != i {
			t.Errorf("position %d: expected %s (order %d), got %s (order %d)", i, id, i, parts[i].ID, parts[i].Order)
		}
	}
}

func TestManager_LeaveFinalizesOnlyThatParticipant(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)
	runManager(t, m)

	tr.Speak("u1", "Alice")
	tr.Speak("u2", "Bob")
	waitFor(t, "two participants", func() bool { return len(m.Participants()) == 2 })

	tr.Leave("u1")
	waitFor(t, "u1 closed", func() bool {
		for _, p := range m.Participants() {
			if p.ID == "u1" {
				return p.State == StateClosed
			}
		}
		return false
	})

	for _, p := range m.Participants() {
		if p.ID == "u2" && p.State != StateCapturing {
			t.Errorf("Expected u2 still capturing, got %s", p.State)
		}
	}
	if !tr.Send("u2", pcmFrame(7)) {
		t.Error("Expected u2 stream to remain open")
	}

	m.StopAll()
}

func TestManager_StopForcesHungCapture(t *testing.T) {
	tr := transporttest.New()
	tr.HoldOpen("stuck")
	m := newTestManager(t, tr, 50*time.Millisecond)
	runManager(t, m)

	tr.Speak("stuck", "Stuck")
	tr.Speak("ok", "Fine")
	waitFor(t, "two participants", func() bool { return len(m.Participants()) == 2 })

	start := time.Now()
	m.StopAll()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("StopAll took %v, expected it bounded by the finalize timeout", elapsed)
	}

	for _, p := range m.Participants() {
		if p.State != StateClosed {
			t.Errorf("%s: expected Closed, got %s", p.ID, p.State)
		}
		if p.ID == "stuck" && !p.Forced {
			t.Error("Expected stuck capture to be force-closed")
		}
		if p.ID == "ok" && p.Forced {
			t.Error("Expected clean capture not to be forced")
		}
	}
}

func TestManager_ForcedCloseStopsWriter(t *testing.T) {
	tr := transporttest.New()
	tr.HoldOpen("stuck")
	m := newTestManager(t, tr, 50*time.Millisecond)
	runManager(t, m)

	tr.Speak("stuck", "Stuck")
	waitFor(t, "participant", participantCount(m))
	tr.Send("stuck", pcmFrame(100, 200, 300))
	waitFor(t, "bytes", func() bool { return m.Participants()[0].Bytes == 6 })

	m.StopAll()

	snap := m.Participants()[0]
	if !snap.Forced {
		t.Fatal("Expected capture to be force-closed")
	}
	before, err := os.Stat(snap.RawPath)
	if err != nil {
		t.Fatal(err)
	}
	if before.Size() != 6 {
		t.Errorf("Expected buffered audio flushed on forced close, got %d bytes", before.Size())
	}

	m.mu.Lock()
	out := m.participants["stuck"].sink
	m.mu.Unlock()
	if err := out.Write([]byte{1, 2}); !errors.Is(err, errSinkClosed) {
		t.Errorf("Expected writes after forced close to be refused, got %v", err)
	}

	after, err := os.Stat(snap.RawPath)
	if err != nil {
		t.Fatal(err)
	}
	if after.Size() != before.Size() {
		t.Errorf("File changed after StopAll: %d -> %d", before.Size(), after.Size())
	}
}

func TestManager_DecodeErrorIsolated(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)
	runManager(t, m)

	tr.Speak("bad", "Bad")
	tr.Speak("good", "Good")
	waitFor(t, "two participants", func() bool { return len(m.Participants()) == 2 })

	tr.Send("bad", transport.Frame{Format: audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2}, Payload: []byte{1, 2}})
	waitFor(t, "bad closed", func() bool {
		for _, p := range m.Participants() {
			if p.ID == "bad" {
				return p.State == StateClosed
			}
		}
		return false
	})

	tr.Send("good", pcmFrame(1, 2, 3))
	m.StopAll()

	for _, p := range m.Participants() {
		switch p.ID {
		case "bad":
			if !errors.Is(p.Err, audio.ErrUnsupportedCodec) {
				t.Errorf("Expected decode error on bad participant, got %v", p.Err)
			}
		case "good":
			if p.Err != nil || p.Bytes != 6 {
				t.Errorf("Expected good participant untouched with 6 bytes, got err=%v bytes=%d", p.Err, p.Bytes)
			}
		}
	}
}

func TestManager_RejoinAppendsToSameFile(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)
	runManager(t, m)

	tr.Speak("u1", "Alice")
	waitFor(t, "participant", participantCount(m))
	tr.Send("u1", pcmFrame(1))
	tr.Leave("u1")
	waitFor(t, "u1 closed", func() bool { return m.Participants()[0].State == StateClosed })

	tr.Speak("u1", "Alice")
	waitFor(t, "u1 capturing again", func() bool { return m.Participants()[0].State == StateCapturing })
	tr.Send("u1", pcmFrame(2))
	m.StopAll()

	parts := m.Participants()
	if len(parts) != 1 || parts[0].Order != 0 {
		t.Fatalf("Expected a single participant keeping its order, got %+v", parts)
	}
	data, _ := os.ReadFile(parts[0].RawPath)
	samples, _ := audio.BytesToSamples(data)
	if len(samples) != 2 || samples[0] != 1 || samples[1] != 2 {
		t.Errorf("Expected [1 2] across both runs, got %v", samples)
	}
}

func TestManager_ReconnectExhaustedEndsRun(t *testing.T) {
	tr := transporttest.New()
	tr.ReconnectFunc = func(ctx context.Context) error { return errors.New("bridge unavailable") }
	m := newTestManager(t, tr, time.Second)
	errc := runManager(t, m)

	tr.Lose(errors.New("read: connection reset"))

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTransportLost) {
			t.Errorf("Expected ErrTransportLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after reconnect exhaustion")
	}
	if n := tr.Reconnects(); n != 2 {
		t.Errorf("Expected 2 reconnect attempts, got %d", n)
	}
	m.StopAll()
}

func TestManager_ReconnectRecovers(t *testing.T) {
	tr := transporttest.New()
	calls := 0
	tr.ReconnectFunc = func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("not yet")
		}
		return nil
	}
	m := newTestManager(t, tr, time.Second)
	errc := runManager(t, m)

	tr.Lose(errors.New("eof"))
	tr.Speak("u1", "Alice")
	waitFor(t, "participant after reconnect", participantCount(m))

	m.StopAll()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Expected clean Run exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after StopAll")
	}
}

func TestManager_NoCapturesAfterStop(t *testing.T) {
	tr := transporttest.New()
	m := newTestManager(t, tr, time.Second)

	m.StopAll()
	m.startCapture(transport.Participant{ID: "late", Label: "Late"})

	if len(m.Participants()) != 0 {
		t.Error("Expected no participant to be created after StopAll")
	}
}

func TestRawFileName(t *testing.T) {
	if got := rawFileName(3, "user/../x y"); got != "03_user____x_y.pcm" {
		t.Errorf("unexpected name %q", got)
	}
}
