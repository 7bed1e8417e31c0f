package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice scribe service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"` // Empty disables the gRPC health server

	// Upstream voice bridge. Sessions started without an explicit URL dial this one.
	BridgeURL string `envconfig:"BRIDGE_URL" default:"ws://localhost:7070/voice"`

	// Storage layout
	DataDir        string `envconfig:"DATA_DIR" default:"data/sessions"` // Raw captures, artifacts, segments
	OutputDir      string `envconfig:"OUTPUT_DIR" default:"data/output"` // Transcript and summary files
	InboxDir       string `envconfig:"INBOX_DIR" default:""`             // Optional offline import directory
	RecoverOnStart bool   `envconfig:"RECOVER_ON_START" default:"true"`

	// Bound on finishing in-flight sessions at shutdown, in seconds
	ShutdownTimeoutSeconds int `envconfig:"SHUTDOWN_TIMEOUT" default:"300"`

	// Capture configuration
	CaptureSampleRate      int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"48000"`
	CaptureChannels        int     `envconfig:"CAPTURE_CHANNELS" default:"2"`
	FlushIntervalSeconds   int     `envconfig:"FLUSH_INTERVAL" default:"10"`      // Forced fsync interval per stream
	FinalizeTimeoutSeconds int     `envconfig:"FINALIZE_TIMEOUT" default:"10"`    // Force-close bound per participant
	FrameBuffer            int     `envconfig:"FRAME_BUFFER" default:"512"`       // Per-participant frame queue depth
	SpeechThreshold        float64 `envconfig:"SPEECH_THRESHOLD" default:"500.0"` // RMS energy for talk-time accounting

	// Reconnect configuration (upstream transport)
	ReconnectMaxAttempts    int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff        int `envconfig:"RECONNECT_BACKOFF" default:"1000"`       // milliseconds
	ReconnectAttemptTimeout int `envconfig:"RECONNECT_ATTEMPT_TIMEOUT" default:"15"` // seconds

	// Transcode configuration
	FFmpegPath            string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	AudioBitrate          string `envconfig:"AUDIO_BITRATE" default:"48k"`
	ArtifactSampleRate    int    `envconfig:"ARTIFACT_SAMPLE_RATE" default:"16000"`
	ArtifactChannels      int    `envconfig:"ARTIFACT_CHANNELS" default:"1"`
	TranscodeMinTimeout   int    `envconfig:"TRANSCODE_MIN_TIMEOUT" default:"30"`   // seconds
	TranscodeMaxTimeout   int    `envconfig:"TRANSCODE_MAX_TIMEOUT" default:"1800"` // seconds
	TranscodeSecondsPerMB int    `envconfig:"TRANSCODE_SECONDS_PER_MB" default:"2"` // timeout growth per MB of raw input
	ChunkThresholdMB      int    `envconfig:"CHUNK_THRESHOLD_MB" default:"12"`      // Artifacts above this are split
	SegmentSeconds        int    `envconfig:"SEGMENT_SECONDS" default:"600"`        // Segment duration

	// Transcription configuration
	STTProvider        string   `envconfig:"STT_PROVIDER" default:"deepgram"` // deepgram, gemini
	DeepgramAPIKey     string   `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel      string   `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage   string   `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	GeminiAPIKeys      []string `envconfig:"GEMINI_API_KEYS"` // Comma separated, rotated on quota errors
	GeminiModel        string   `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	SegmentConcurrency int      `envconfig:"SEGMENT_CONCURRENCY" default:"3"`
	ProcessConcurrency int      `envconfig:"PROCESS_CONCURRENCY" default:"4"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Attempts per transcription call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"1000"`       // milliseconds
	RetryMaxBackoff            int `envconfig:"RETRY_MAX_BACKOFF" default:"4000"`           // milliseconds

	// Summarization
	SummaryEnabled bool   `envconfig:"SUMMARY_ENABLED" default:"true"`
	SummaryPrompt  string `envconfig:"SUMMARY_PROMPT" default:""`

	// Delivery
	MessageUnitSize int    `envconfig:"MESSAGE_UNIT_SIZE" default:"2000"`
	WebhookURL      string `envconfig:"WEBHOOK_URL" default:""`
	WriteDocx       bool   `envconfig:"WRITE_DOCX" default:"true"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks provider credentials and numeric bounds
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case "gemini":
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("GEMINI_API_KEYS is required when STT_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (want deepgram or gemini)", c.STTProvider)
	}

	if c.SummaryEnabled && len(c.GeminiAPIKeys) == 0 {
		return fmt.Errorf("GEMINI_API_KEYS is required when SUMMARY_ENABLED=true")
	}
	if c.CaptureSampleRate <= 0 || c.CaptureChannels <= 0 {
		return fmt.Errorf("capture format must be positive (rate=%d channels=%d)", c.CaptureSampleRate, c.CaptureChannels)
	}
	if c.FlushIntervalSeconds <= 0 || c.FlushIntervalSeconds > 60 {
		return fmt.Errorf("FLUSH_INTERVAL must be between 1 and 60 seconds, got %d", c.FlushIntervalSeconds)
	}
	if c.FinalizeTimeoutSeconds <= 0 {
		return fmt.Errorf("FINALIZE_TIMEOUT must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.TranscodeMinTimeout <= 0 || c.TranscodeMaxTimeout < c.TranscodeMinTimeout {
		return fmt.Errorf("transcode timeout bounds are invalid (min=%d max=%d)", c.TranscodeMinTimeout, c.TranscodeMaxTimeout)
	}
	if c.ChunkThresholdMB <= 0 || c.SegmentSeconds <= 0 {
		return fmt.Errorf("CHUNK_THRESHOLD_MB and SEGMENT_SECONDS must be positive")
	}
	if c.MessageUnitSize <= 0 {
		return fmt.Errorf("MESSAGE_UNIT_SIZE must be positive")
	}

	return nil
}

// FlushInterval returns the periodic flush interval for capture streams
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// FinalizeTimeout returns the force-close bound for a single participant capture
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds how long shutdown waits for sessions to finish processing
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// ChunkThresholdBytes returns the artifact size above which chunking is proactive
func (c *Config) ChunkThresholdBytes() int64 {
	return int64(c.ChunkThresholdMB) * 1024 * 1024
}
