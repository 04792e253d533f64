// Package openai provides a synthesizer backed by the OpenAI speech API.
//
// The provider always requests the raw PCM response format, which the API
// delivers as 24 kHz mono little-endian int16, so no container parsing is
// needed.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/types"
)

const (
	// defaultModel is used when no model is configured.
	defaultModel = "tts-1"

	// defaultVoice is used when the per-call voice has no ID.
	defaultVoice = "alloy"

	// pcmSampleRate is the fixed rate of the API's pcm response format.
	pcmSampleRate = 24000
)

// Compile-time assertion that Provider implements synthesizer.Provider.
var _ synthesizer.Provider = (*Provider)(nil)

// Provider implements synthesizer.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model. Defaults to tts-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
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

// New constructs a new OpenAI synthesizer Provider.
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
	return &Provider{client: client, model: cfg.model}, nil
}

// Synthesize implements synthesizer.Provider. voice.ID selects the OpenAI
// voice name (alloy when empty) and voice.Speed maps to the API's speed
// parameter; voice.Language is ignored, the models are multilingual by
// default.
func (p *Provider) Synthesize(ctx context.Context, text string, voice synthesizer.Voice) (synthesizer.Clip, error) {
	if text == "" {
		return synthesizer.Clip{}, fmt.Errorf("openai: text must not be empty")
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = defaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed != 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return synthesizer.Clip{}, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return synthesizer.Clip{}, fmt.Errorf("openai: read audio body: %w", err)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return synthesizer.Clip{}, fmt.Errorf("openai: %w: %d bytes of PCM",
			types.ErrInvalidResponse, len(pcm))
	}

	return synthesizer.Clip{
		PCM:    pcm,
		Format: audio.Format{SampleRate: pcmSampleRate, Channels: 1},
	}, nil
}
