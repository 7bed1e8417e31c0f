package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	restapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/voice-scribe/internal/config"
)

var initDeepgram sync.Once

// fileFunc transcribes one file and returns the best alternative's transcript
type fileFunc func(ctx context.Context, path string) (string, error)

// DeepgramClient implements Transcriber using Deepgram's prerecorded REST API
type DeepgramClient struct {
	model    string
	language string
	fromFile fileFunc
}

// NewDeepgramClient creates a Deepgram prerecorded transcription client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	initDeepgram.Do(listenClient.InitWithDefault)

	d := &DeepgramClient{
		model:    cfg.DeepgramModel,
		language: cfg.DeepgramLanguage,
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       cfg.DeepgramModel,
		Language:    cfg.DeepgramLanguage,
		Punctuate:   true,
		SmartFormat: true,
	}

	c := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	dg := restapi.New(c)

	d.fromFile = func(ctx context.Context, path string) (string, error) {
		res, err := dg.FromFile(ctx, path, options)
		if err != nil {
			return "", err
		}
		if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
			return "", nil
		}
		alts := res.Results.Channels[0].Alternatives
		if len(alts) == 0 {
			return "", nil
		}
		return alts[0].Transcript, nil
	}

	return d
}

// Name returns the provider name
func (d *DeepgramClient) Name() string {
	return "deepgram"
}

// Transcribe sends the file at audioPath to Deepgram
func (d *DeepgramClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	text, err := d.fromFile(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription failed: %w", withStatus(d.Name(), err))
	}
	return strings.TrimSpace(text), nil
}
