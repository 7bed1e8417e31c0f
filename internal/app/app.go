// Package app wires configuration into the running service graph.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/voice-scribe/internal/capture"
	"github.com/lexiqai/voice-scribe/internal/config"
	"github.com/lexiqai/voice-scribe/internal/delivery"
	"github.com/lexiqai/voice-scribe/internal/gemini"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/orchestrator"
	"github.com/lexiqai/voice-scribe/internal/recorder"
	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/lexiqai/voice-scribe/internal/session"
	"github.com/lexiqai/voice-scribe/internal/stt"
	"github.com/lexiqai/voice-scribe/internal/summarize"
	"github.com/lexiqai/voice-scribe/internal/transcode"
	"github.com/lexiqai/voice-scribe/internal/transport"
	"github.com/rs/zerolog"
)

// App holds the constructed service components
type App struct {
	Config      *config.Config
	Coordinator *recorder.Coordinator
	Engine      *transcode.Engine
	Transcriber *stt.Guarded
	Summarizer  summarize.Summarizer
}

// New builds every component from cfg
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	engine := transcode.NewEngine(transcode.Config{
		FFmpegPath:       cfg.FFmpegPath,
		Bitrate:          cfg.AudioBitrate,
		InputSampleRate:  cfg.CaptureSampleRate,
		InputChannels:    cfg.CaptureChannels,
		OutputSampleRate: cfg.ArtifactSampleRate,
		OutputChannels:   cfg.ArtifactChannels,
		MinTimeout:       time.Duration(cfg.TranscodeMinTimeout) * time.Second,
		MaxTimeout:       time.Duration(cfg.TranscodeMaxTimeout) * time.Second,
		TimeoutPerMB:     time.Duration(cfg.TranscodeSecondsPerMB) * time.Second,
		SegmentSeconds:   cfg.SegmentSeconds,
	}, transcode.NewExecutor(), logger)

	var gc *gemini.Client
	if len(cfg.GeminiAPIKeys) > 0 {
		gc = gemini.New(cfg.GeminiAPIKeys, cfg.GeminiModel, logger)
	}

	transcriber, err := stt.New(cfg, gc)
	if err != nil {
		return nil, fmt.Errorf("create transcriber: %w", err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	retry.MaxBackoff = time.Duration(cfg.RetryMaxBackoff) * time.Millisecond

	orch := orchestrator.New(transcriber, engine, orchestrator.Config{
		ChunkThreshold:     cfg.ChunkThresholdBytes(),
		SegmentConcurrency: cfg.SegmentConcurrency,
		Retry:              retry,
	}, logger)

	var summarizer summarize.Summarizer
	if cfg.SummaryEnabled && gc != nil {
		summarizer = summarize.NewGeminiSummarizer(gc, cfg.SummaryPrompt)
	}

	sinks := delivery.MultiSink{delivery.NewLogSink(logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, delivery.NewWebhookSink(cfg.WebhookURL, 60*time.Second))
	}
	reporter := delivery.NewReporter(sinks, cfg.MessageUnitSize, logger)

	dial := func(ctx context.Context, bridgeURL, scopeID string) (transport.Transport, error) {
		l := observability.WithComponent("transport").With().Str("scope_id", scopeID).Logger()
		tr, err := transport.DialWS(ctx, bridgeURL, scopeID, transport.Options{
			FrameBuffer: cfg.FrameBuffer,
			Logger:      &l,
		})
		if err != nil {
			return nil, err
		}
		return tr, nil
	}

	coord := recorder.NewCoordinator(recorder.Config{
		DataDir:          cfg.DataDir,
		OutputDir:        cfg.OutputDir,
		DefaultBridgeURL: cfg.BridgeURL,
		Capture: capture.Config{
			SampleRate:      cfg.CaptureSampleRate,
			Channels:        cfg.CaptureChannels,
			FlushInterval:   cfg.FlushInterval(),
			FinalizeTimeout: cfg.FinalizeTimeout(),
			SpeechThreshold: cfg.SpeechThreshold,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts:    cfg.ReconnectMaxAttempts,
				Backoff:        time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
				Multiplier:     2.0,
				MaxBackoff:     30 * time.Second,
				AttemptTimeout: time.Duration(cfg.ReconnectAttemptTimeout) * time.Second,
			},
		},
		ProcessConcurrency: cfg.ProcessConcurrency,
		WriteDocx:          cfg.WriteDocx,
	}, recorder.Deps{
		Registry:     session.NewRegistry(cfg.DataDir),
		Dial:         dial,
		Transcoder:   engine,
		Orchestrator: orch,
		Summarizer:   summarizer,
		Reporter:     reporter,
	}, logger)

	return &App{
		Config:      cfg,
		Coordinator: coord,
		Engine:      engine,
		Transcriber: transcriber,
		Summarizer:  summarizer,
	}, nil
}

// Checks returns the readiness probes for /ready
func (a *App) Checks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{
		"ffmpeg": a.Engine.Check,
		"transcriber": func(ctx context.Context) (bool, error) {
			state, requests, failures, rate := a.Transcriber.Breaker().GetStats()
			if state != resilience.StateClosed {
				return false, fmt.Errorf("%s circuit breaker is %s (%d/%d calls failed, %.0f%%)",
					a.Transcriber.Name(), state, failures, requests, rate)
			}
			return true, nil
		},
	}
	if a.Config.SummaryEnabled {
		checks["summarizer"] = func(ctx context.Context) (bool, error) {
			if a.Summarizer == nil {
				return false, fmt.Errorf("summarizer not configured")
			}
			return true, nil
		}
	}
	return checks
}
