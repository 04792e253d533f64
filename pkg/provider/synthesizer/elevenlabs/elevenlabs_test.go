package elevenlabs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer/elevenlabs"
	"github.com/voxloop/voxloop/pkg/types"
)

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	_, err := elevenlabs.New("")
	if err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestNew_UnsupportedSampleRate_ReturnsError(t *testing.T) {
	_, err := elevenlabs.New("key", elevenlabs.WithSampleRate(11025))
	if err == nil {
		t.Fatal("expected error for unsupported sample rate, got nil")
	}
}

func TestSynthesize_SendsKeyAndRequestsPCM(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}
	var (
		gotPath   string
		gotFormat string
		gotKey    string
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := elevenlabs.New("secret-key",
		elevenlabs.WithBaseURL(srv.URL),
		elevenlabs.WithModel("eleven_turbo_v2_5"),
		elevenlabs.WithSampleRate(22050),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip, err := p.Synthesize(context.Background(), "Hello.", synthesizer.Voice{ID: "rachel"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if want := "/v1/text-to-speech/rachel"; gotPath != want {
		t.Errorf("request path = %q; want %q", gotPath, want)
	}
	if want := "pcm_22050"; gotFormat != want {
		t.Errorf("output_format = %q; want %q", gotFormat, want)
	}
	if gotKey != "secret-key" {
		t.Errorf("xi-api-key header = %q; want %q", gotKey, "secret-key")
	}
	if got, want := gotBody["text"], "Hello."; got != want {
		t.Errorf("request text = %v; want %q", got, want)
	}
	if got, want := gotBody["model_id"], "eleven_turbo_v2_5"; got != want {
		t.Errorf("request model_id = %v; want %q", got, want)
	}
	if len(clip.PCM) != len(pcm) {
		t.Errorf("clip PCM length = %d; want %d", len(clip.PCM), len(pcm))
	}
	if want := (audio.Format{SampleRate: 22050, Channels: 1}); clip.Format != want {
		t.Errorf("clip Format = %v; want %v", clip.Format, want)
	}
}

func TestSynthesize_VoiceSettings_IncludesSpeedAndLanguage(t *testing.T) {
	var gotBody struct {
		LanguageCode  string `json:"language_code"`
		VoiceSettings *struct {
			Speed float64 `json:"speed"`
		} `json:"voice_settings"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte{0x00, 0x00})
	}))
	defer srv.Close()

	p, _ := elevenlabs.New("key", elevenlabs.WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "hola", synthesizer.Voice{
		ID:       "antoni",
		Language: "es",
		Speed:    1.1,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotBody.LanguageCode != "es" {
		t.Errorf("language_code = %q; want %q", gotBody.LanguageCode, "es")
	}
	if gotBody.VoiceSettings == nil {
		t.Fatal("voice_settings missing from request body")
	}
	if gotBody.VoiceSettings.Speed != 1.1 {
		t.Errorf("voice_settings.speed = %v; want 1.1", gotBody.VoiceSettings.Speed)
	}
}

func TestSynthesize_MissingVoiceID_ReturnsError(t *testing.T) {
	p, _ := elevenlabs.New("key")
	_, err := p.Synthesize(context.Background(), "hi", synthesizer.Voice{})
	if err == nil {
		t.Fatal("expected error for missing voice ID, got nil")
	}
}

func TestSynthesize_Unauthorized_IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := elevenlabs.New("bad-key", elevenlabs.WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "hi", synthesizer.Voice{ID: "rachel"})
	if err == nil {
		t.Fatal("expected error for HTTP 401, got nil")
	}
	if !errors.Is(err, types.ErrUnavailable) {
		t.Errorf("error %v should wrap types.ErrUnavailable", err)
	}
}

func TestSynthesize_OddLengthBody_IsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	p, _ := elevenlabs.New("key", elevenlabs.WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "hi", synthesizer.Voice{ID: "rachel"})
	if err == nil {
		t.Fatal("expected error for odd-length PCM body, got nil")
	}
	if got := types.Classify(err); got != types.ErrorInvalidResponse {
		t.Errorf("Classify(err) = %q; want %q", got, types.ErrorInvalidResponse)
	}
}
