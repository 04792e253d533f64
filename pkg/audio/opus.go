package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Opus streams always run at 48 kHz with 20 ms packets.
const (
	OpusSampleRate = 48000
	OpusFrameMs    = 20
	// opusFrameSize is the number of samples per channel per 20 ms packet.
	opusFrameSize = OpusSampleRate * OpusFrameMs / 1000 // 960
)

// OpusDecoder decodes a single Opus packet stream into PCM. Each stream needs
// its own decoder to maintain codec state across consecutive packets.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates a decoder for a 48 kHz Opus stream with the given
// channel count (1 or 2).
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Format returns the PCM format produced by Decode.
func (d *OpusDecoder) Format() Format {
	return Format{SampleRate: OpusSampleRate, Channels: d.channels}
}

// OpusEncoder encodes PCM into an Opus packet stream.
type OpusEncoder struct {
	enc      *gopus.Encoder
	channels int
}

// NewOpusEncoder creates an encoder producing 48 kHz Opus packets with the
// given channel count.
func NewOpusEncoder(channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, channels: channels}, nil
}

// EncodeAll splits pcm (48 kHz interleaved int16 bytes) into 20 ms packets
// and encodes each. The final partial packet is zero-padded to a full frame.
func (e *OpusEncoder) EncodeAll(pcm []byte) ([][]byte, error) {
	frameBytes := opusFrameSize * e.channels * 2
	if len(pcm) == 0 {
		return nil, nil
	}

	var packets [][]byte
	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		frame := pcm[off:end]
		if len(frame) < frameBytes {
			padded := make([]byte, frameBytes)
			copy(padded, frame)
			frame = padded
		}

		packet, err := e.enc.Encode(bytesToInt16s(frame), opusFrameSize, frameBytes)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, packet)
	}
	return packets, nil
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
