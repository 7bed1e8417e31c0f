package audio

import (
	"sync"
	"time"
)

// SpeechMeter accumulates how long a participant actually spoke.
// It is reporting only and never influences stream lifetime.
type SpeechMeter struct {
	threshold  float64
	sampleRate int
	channels   int

	mu     sync.Mutex
	voiced time.Duration
	total  time.Duration
}

// NewSpeechMeter creates a meter for interleaved PCM at the given format
func NewSpeechMeter(threshold float64, sampleRate, channels int) *SpeechMeter {
	return &SpeechMeter{
		threshold:  threshold,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Observe accounts one decoded block of interleaved samples
func (m *SpeechMeter) Observe(samples []int16) {
	if len(samples) == 0 || m.sampleRate <= 0 || m.channels <= 0 {
		return
	}
	frames := len(samples) / m.channels
	d := time.Duration(frames) * time.Second / time.Duration(m.sampleRate)

	voiced := CalculateRMS(samples) > m.threshold

	m.mu.Lock()
	m.total += d
	if voiced {
		m.voiced += d
	}
	m.mu.Unlock()
}

// Voiced returns accumulated speech duration
func (m *SpeechMeter) Voiced() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voiced
}

// Total returns accumulated audio duration
func (m *SpeechMeter) Total() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
