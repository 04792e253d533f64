// Package openai provides a transcriber backed by the OpenAI audio
// transcriptions API (whisper-1 and compatible models).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
)

// defaultModel is used when no model is configured.
const defaultModel = "whisper-1"

// Compile-time assertion that Provider implements transcriber.Provider.
var _ transcriber.Provider = (*Provider)(nil)

// Provider implements transcriber.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	lang   string
}

// config holds optional configuration for the provider.
type config struct {
	model    string
	language string
	baseURL  string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the ISO 639-1 language hint (e.g. "en"). Empty lets the
// backend auto-detect.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcriber Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model, lang: cfg.language}, nil
}

// Transcribe implements transcriber.Provider. The segment is wrapped in a
// WAV container and uploaded in one request; the API does not report a
// confidence value, so Confidence is always zero.
func (p *Provider) Transcribe(ctx context.Context, seg transcriber.Segment) (transcriber.Transcription, error) {
	if len(seg.PCM) == 0 {
		return transcriber.Transcription{}, fmt.Errorf("openai: segment contains no audio")
	}

	wav := audio.EncodeWAV(seg.PCM, seg.SampleRate, seg.Channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if p.lang != "" {
		params.Language = param.NewOpt(p.lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcriber.Transcription{}, fmt.Errorf("openai: transcription: %w", err)
	}

	return transcriber.Transcription{Text: strings.TrimSpace(resp.Text)}, nil
}
