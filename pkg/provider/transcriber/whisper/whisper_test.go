package whisper_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	"github.com/voxloop/voxloop/pkg/provider/transcriber/whisper"
	"github.com/voxloop/voxloop/pkg/types"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

// makePCM generates a sine-wave PCM buffer at 440 Hz containing `samples`
// 16-bit little-endian signed samples.
func makePCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func makeSegment(samples int) transcriber.Segment {
	return transcriber.Segment{
		PCM:        makePCM(samples),
		SampleRate: 16000,
		Channels:   1,
	}
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	srv := newMockServer(t, "  roll for initiative \n", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), makeSegment(1600))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got, want := tr.Text, "roll for initiative"; got != want {
		t.Errorf("Text = %q; want %q", got, want)
	}
}

func TestTranscribe_EmptySegment_SkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), transcriber.Segment{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q; want empty", tr.Text)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d time(s) for empty segment; want 0", n)
	}
}

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	var (
		gotFilename string
		gotMagic    []byte
		gotLanguage string
		gotModel    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		gotMagic = make([]byte, 4)
		_, _ = f.Read(gotMagic)
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"), whisper.WithModel("small"))
	if _, err := p.Transcribe(context.Background(), makeSegment(1600)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotFilename != "audio.wav" {
		t.Errorf("uploaded filename = %q; want %q", gotFilename, "audio.wav")
	}
	if !bytes.Equal(gotMagic, []byte("RIFF")) {
		t.Errorf("uploaded file starts with %q; want RIFF header", gotMagic)
	}
	if gotLanguage != "de" {
		t.Errorf("language field = %q; want %q", gotLanguage, "de")
	}
	if gotModel != "small" {
		t.Errorf("model field = %q; want %q", gotModel, "small")
	}
}

// ---- error handling ---------------------------------------------------------

func TestTranscribe_ServerError_IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeSegment(1600))
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
	if !errors.Is(err, types.ErrUnavailable) {
		t.Errorf("error %v should wrap types.ErrUnavailable", err)
	}
	if got := types.Classify(err); got != types.ErrorUnavailable {
		t.Errorf("Classify(err) = %q; want %q", got, types.ErrorUnavailable)
	}
}

func TestTranscribe_MalformedJSON_IsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeSegment(1600))
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if !errors.Is(err, types.ErrInvalidResponse) {
		t.Errorf("error %v should wrap types.ErrInvalidResponse", err)
	}
	if got := types.Classify(err); got != types.ErrorInvalidResponse {
		t.Errorf("Classify(err) = %q; want %q", got, types.ErrorInvalidResponse)
	}
}

func TestTranscribe_CancelledContext_ReturnsError(t *testing.T) {
	srv := newMockServer(t, "never", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Transcribe(ctx, makeSegment(1600)); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
