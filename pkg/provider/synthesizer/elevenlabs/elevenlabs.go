// Package elevenlabs provides a synthesizer backed by the ElevenLabs
// text-to-speech API.
//
// The provider requests raw 16-bit PCM from the API (output_format=pcm_N)
// so responses can be streamed straight into the audio pipeline without a
// compressed-audio decode step. ElevenLabs returns mono PCM at the
// requested rate.
//
// Typical usage:
//
//	p, err := elevenlabs.New(apiKey, elevenlabs.WithSampleRate(16000))
//	clip, err := p.Synthesize(ctx, "Hello there.", synthesizer.Voice{ID: "21m00Tcm4TlvDq8ikWAM"})
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/types"
)

// Compile-time interface assertion.
var _ synthesizer.Provider = (*Provider)(nil)

const (
	defaultBaseURL    = "https://api.elevenlabs.io"
	defaultModel      = "eleven_multilingual_v2"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

// pcmRates are the raw PCM output rates the ElevenLabs API accepts.
var pcmRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	24000: true,
	44100: true,
}

// Option is a functional option for configuring an ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the model ID used for synthesis (e.g.,
// "eleven_multilingual_v2", "eleven_turbo_v2_5"). Defaults to
// "eleven_multilingual_v2".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API base URL. Useful for tests and proxies.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithSampleRate sets the PCM sample rate requested from the API. Must be
// one of 8000, 16000, 22050, 24000 or 44100. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements synthesizer.Provider using the ElevenLabs
// text-to-speech API. Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	sampleRate int
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if !pcmRates[p.sampleRate] {
		return nil, fmt.Errorf("elevenlabs: unsupported PCM sample rate %d", p.sampleRate)
	}
	return p, nil
}

// ttsRequest is the JSON body for POST /v1/text-to-speech/{voice_id}.
type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	LanguageCode  string         `json:"language_code,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Speed float64 `json:"speed"`
}

// Synthesize renders text to one PCM clip. The voice ID selects the
// ElevenLabs voice and must not be empty.
func (p *Provider) Synthesize(ctx context.Context, text string, voice synthesizer.Voice) (synthesizer.Clip, error) {
	if voice.ID == "" {
		return synthesizer.Clip{}, errors.New("elevenlabs: voice.ID must not be empty")
	}

	body := ttsRequest{
		Text:         text,
		ModelID:      p.model,
		LanguageCode: voice.Language,
	}
	if voice.Speed > 0 {
		body.VoiceSettings = &voiceSettings{Speed: voice.Speed}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return synthesizer.Clip{}, fmt.Errorf("elevenlabs: marshal tts request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		p.baseURL, url.PathEscape(voice.ID), p.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return synthesizer.Clip{}, fmt.Errorf("elevenlabs: create tts request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return synthesizer.Clip{}, fmt.Errorf("elevenlabs: POST text-to-speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return synthesizer.Clip{}, fmt.Errorf("elevenlabs: %w: text-to-speech returned status %d",
			types.ErrUnavailable, resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return synthesizer.Clip{}, fmt.Errorf("elevenlabs: read PCM response: %w", err)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return synthesizer.Clip{}, fmt.Errorf("elevenlabs: %w: response is not 16-bit PCM (%d bytes)",
			types.ErrInvalidResponse, len(pcm))
	}

	return synthesizer.Clip{
		PCM:    pcm,
		Format: audio.Format{SampleRate: p.sampleRate, Channels: 1},
	}, nil
}
