package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	mono := samplesToBytes([]int16{100, 200, 300})
	stereo := audio.MonoToStereo(mono)
	got := bytesToSamples(stereo)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples should clamp to 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz -> 6 samples at 48kHz (3x)
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.ResampleMono16(pcm, 16000, 48000)
	got := bytesToSamples(out)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz -> 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	if got := len(out) / 2; got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
}

func TestResampleMono16_InvalidRates(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
		out := audio.ResampleMono16(pcm, rates[0], rates[1])
		if len(out) != len(pcm) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestResampleStereo16(t *testing.T) {
	// 2 stereo frames at 16kHz -> 6 stereo frames (12 samples) at 48kHz
	pcm := samplesToBytes([]int16{100, 200, 300, 400})
	out := audio.ResampleStereo16(pcm, 16000, 48000)
	if got := len(out) / 2; got != 12 {
		t.Fatalf("expected 12 samples, got %d", got)
	}
}

func TestConverter_NoOp(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	pcm := samplesToBytes([]int16{100, 200})

	out := conv.Convert(pcm, audio.Format{SampleRate: 48000, Channels: 2})
	// Same slice: pointer equality check.
	if &out[0] != &pcm[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestConverter_DownmixAndResample(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	// 48kHz stereo input: 6 stereo frames.
	pcm := samplesToBytes([]int16{
		100, 100, 200, 200, 300, 300,
		400, 400, 500, 500, 600, 600,
	})
	out := conv.Convert(pcm, audio.Format{SampleRate: 48000, Channels: 2})

	// 6 frames at 48kHz -> 2 frames at 16kHz, mono -> 2 samples -> 4 bytes.
	if len(out) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(out))
	}
}

func TestConverter_OddByteCount(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert([]byte{1, 2, 3}, audio.Format{SampleRate: 16000, Channels: 1})
	if out != nil {
		t.Errorf("expected nil for odd byte count, got %d bytes", len(out))
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil): got %v, want 0", got)
	}
	if got := audio.RMS(samplesToBytes([]int16{0, 0, 0})); got != 0 {
		t.Errorf("RMS(silence): got %v, want 0", got)
	}
	// Constant amplitude: RMS equals the amplitude.
	got := audio.RMS(samplesToBytes([]int16{1000, -1000, 1000, -1000}))
	if got < 999.9 || got > 1000.1 {
		t.Errorf("RMS(square wave): got %v, want 1000", got)
	}
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{100, -200, 300, -400})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("WAV length: got %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}

	data, f, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("format: got %s, want 16000Hz mono", f)
	}
	if len(data) != len(pcm) {
		t.Fatalf("data length: got %d, want %d", len(data), len(pcm))
	}
	for i := range pcm {
		if data[i] != pcm[i] {
			t.Fatalf("byte %d: got %d, want %d", i, data[i], pcm[i])
		}
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	cases := []struct {
		name string
		wav  []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", append([]byte("JUNK"), make([]byte, 40)...)},
		{"no data chunk", audio.EncodeWAV(nil, 16000, 1)[:28]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := audio.DecodeWAV(tc.wav); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestFormat_Duration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	// 16000 samples/s * 2 bytes = 32000 bytes/s; 3200 bytes = 100ms.
	if got := f.Duration(3200); got != 100*time.Millisecond {
		t.Errorf("Duration(3200): got %v, want 100ms", got)
	}
	if got := (audio.Format{}).Duration(3200); got != 0 {
		t.Errorf("Duration on zero format: got %v, want 0", got)
	}
}

func TestFormat_Bytes(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Bytes(20 * time.Millisecond); got != 640 {
		t.Errorf("Bytes(20ms): got %d, want 640", got)
	}

	// Stereo alignment: result must be a multiple of the 4-byte frame.
	st := audio.Format{SampleRate: 48000, Channels: 2}
	if got := st.Bytes(7 * time.Millisecond); got%4 != 0 {
		t.Errorf("Bytes(7ms) not frame-aligned: %d", got)
	}
}
