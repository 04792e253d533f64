package energy_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxloop/voxloop/pkg/provider/vad/energy"
)

// constantFrame builds a PCM frame of n samples all at the given amplitude.
func constantFrame(amplitude int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestClassifier_Score(t *testing.T) {
	cls := energy.New()

	cases := []struct {
		name      string
		frame     []byte
		min, max  float64
	}{
		{"empty frame", nil, 0, 0},
		{"silence", constantFrame(0, 320), 0, 0},
		{"full scale", constantFrame(32767, 320), 0.99, 1.0},
		// 1036 is approximately -30 dBFS, the midpoint of the default range.
		{"speech level", constantFrame(1036, 320), 0.45, 0.55},
		// Amplitude 16 is approximately -66 dBFS, below the floor.
		{"below floor", constantFrame(16, 320), 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cls.Score(tc.frame)
			if got < tc.min || got > tc.max {
				t.Errorf("Score: got %v, want in [%v, %v]", got, tc.min, tc.max)
			}
		})
	}
}

func TestClassifier_WithFloor(t *testing.T) {
	// Raising the floor to -30 dBFS pushes the -30 dBFS frame down to 0.
	cls := energy.New(energy.WithFloor(-30))
	frame := constantFrame(1036, 320)
	if got := cls.Score(frame); got > 0.05 {
		t.Errorf("Score with raised floor: got %v, want near 0", got)
	}
}
