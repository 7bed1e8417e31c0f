package config

import (
	"os"
	"testing"
	"time"
)

// setRequired sets the minimum environment for a deepgram + gemini summary setup
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("STT_PROVIDER", "deepgram")
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("GEMINI_API_KEYS", "key-a,key-b")
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if len(cfg.GeminiAPIKeys) != 2 || cfg.GeminiAPIKeys[1] != "key-b" {
		t.Errorf("Expected two Gemini keys, got %v", cfg.GeminiAPIKeys)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("STT_PROVIDER", "deepgram")
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("GEMINI_API_KEYS", "")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.CaptureSampleRate != 48000 || cfg.CaptureChannels != 2 {
		t.Errorf("Expected capture format 48000/2, got %d/%d", cfg.CaptureSampleRate, cfg.CaptureChannels)
	}

	if cfg.FlushInterval() != 10*time.Second {
		t.Errorf("Expected default flush interval 10s, got %v", cfg.FlushInterval())
	}

	if cfg.FinalizeTimeout() != 10*time.Second {
		t.Errorf("Expected default finalize timeout 10s, got %v", cfg.FinalizeTimeout())
	}

	if cfg.ShutdownTimeout() != 300*time.Second {
		t.Errorf("Expected default shutdown timeout 300s, got %v", cfg.ShutdownTimeout())
	}

	if cfg.ChunkThresholdBytes() != 12*1024*1024 {
		t.Errorf("Expected default chunk threshold 12 MiB, got %d", cfg.ChunkThresholdBytes())
	}

	if cfg.SegmentSeconds != 600 {
		t.Errorf("Expected default SegmentSeconds 600, got %d", cfg.SegmentSeconds)
	}

	if cfg.MessageUnitSize != 2000 {
		t.Errorf("Expected default MessageUnitSize 2000, got %d", cfg.MessageUnitSize)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("SEGMENT_SECONDS", "300")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SegmentSeconds != 300 {
		t.Errorf("Expected SegmentSeconds 300, got %d", cfg.SegmentSeconds)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			STTProvider:            "gemini",
			GeminiAPIKeys:          []string{"k"},
			SummaryEnabled:         true,
			CaptureSampleRate:      48000,
			CaptureChannels:        2,
			FlushIntervalSeconds:   10,
			FinalizeTimeoutSeconds: 10,
			RetryMaxAttempts:       3,
			TranscodeMinTimeout:    30,
			TranscodeMaxTimeout:    600,
			ChunkThresholdMB:       12,
			SegmentSeconds:         600,
			MessageUnitSize:        2000,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "unknown provider", mutate: func(c *Config) { c.STTProvider = "whisper" }, wantErr: true},
		{name: "summary without keys", mutate: func(c *Config) { c.GeminiAPIKeys = nil; c.STTProvider = "deepgram"; c.DeepgramAPIKey = "d" }, wantErr: true},
		{name: "summary disabled without keys", mutate: func(c *Config) {
			c.GeminiAPIKeys = nil
			c.STTProvider = "deepgram"
			c.DeepgramAPIKey = "d"
			c.SummaryEnabled = false
		}, wantErr: false},
		{name: "flush interval above bound", mutate: func(c *Config) { c.FlushIntervalSeconds = 61 }, wantErr: true},
		{name: "inverted transcode bounds", mutate: func(c *Config) { c.TranscodeMaxTimeout = 10 }, wantErr: true},
		{name: "zero message unit", mutate: func(c *Config) { c.MessageUnitSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 1000 {
		t.Errorf("Expected default RetryInitialBackoff 1000, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.RetryMaxBackoff != 4000 {
		t.Errorf("Expected default RetryMaxBackoff 4000, got %d", cfg.RetryMaxBackoff)
	}

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequired(t)
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
