// Package deepgram provides a transcriber backed by the Deepgram
// pre-recorded API. Each speech segment is submitted as one WAV upload to
// POST /v1/listen and the top alternative of the first channel becomes the
// transcription.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	"github.com/voxloop/voxloop/pkg/types"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Provider implements transcriber.Provider.
var _ transcriber.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en",
// "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithBaseURL overrides the API endpoint, for self-hosted Deepgram
// deployments.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithTimeout sets the HTTP client timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements transcriber.Provider backed by the Deepgram
// pre-recorded API. Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the JSON structure returned by Deepgram for a
// pre-recorded transcription request.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe uploads the segment as WAV and returns the top alternative of
// the first channel. An empty segment returns an empty transcription
// without touching the network.
func (p *Provider) Transcribe(ctx context.Context, seg transcriber.Segment) (transcriber.Transcription, error) {
	if len(seg.PCM) == 0 {
		return transcriber.Transcription{}, nil
	}

	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return transcriber.Transcription{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	wav := audio.EncodeWAV(seg.PCM, seg.SampleRate, seg.Channels)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(wav))
	if err != nil {
		return transcriber.Transcription{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcriber.Transcription{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcriber.Transcription{}, fmt.Errorf("deepgram: %w: server returned HTTP %d",
			types.ErrUnavailable, resp.StatusCode)
	}

	var result listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return transcriber.Transcription{}, fmt.Errorf("deepgram: %w: parse response: %v",
			types.ErrInvalidResponse, err)
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return transcriber.Transcription{}, fmt.Errorf("deepgram: %w: response contained no alternatives",
			types.ErrInvalidResponse)
	}

	alt := result.Results.Channels[0].Alternatives[0]
	return transcriber.Transcription{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
	}, nil
}
