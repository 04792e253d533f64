// Package audio provides the PCM primitives shared by the stream gateway and
// the turn detector: a bounded capture buffer, sample-format conversion, WAV
// framing, and Opus decoding.
//
// All PCM in this package is little-endian int16. Sample rate and channel
// count travel alongside the bytes; nothing here assumes a fixed format.
package audio

import "sync"

// DefaultCapacity is the buffer capacity used when none is configured (1 MiB,
// about 32 s of 16 kHz mono PCM).
const DefaultCapacity = 1 << 20

// Buffer is a bounded window of the most recent stream audio. Add appends and
// evicts the oldest bytes once the capacity is exceeded, so the buffer always
// holds a contiguous suffix of the stream.
//
// The buffer expects a single writer (the session ingest loop) and any number
// of readers. All methods are safe for concurrent use.
type Buffer struct {
	mu   sync.RWMutex
	data []byte

	// start is the stream offset of data[0]; start+len(data) is the offset
	// one past the newest byte.
	start uint64

	max     int
	onEvict func(dropped int)
}

// BufferOption configures a [Buffer].
type BufferOption func(*Buffer)

// WithEvictionHook registers fn to be invoked after Add evicts bytes, with
// the number of bytes dropped. The hook runs outside the buffer lock, on the
// writer's goroutine.
func WithEvictionHook(fn func(dropped int)) BufferOption {
	return func(b *Buffer) { b.onEvict = fn }
}

// NewBuffer creates a buffer that retains at most max bytes. A non-positive
// max falls back to [DefaultCapacity].
func NewBuffer(max int, opts ...BufferOption) *Buffer {
	if max <= 0 {
		max = DefaultCapacity
	}
	b := &Buffer{max: max}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends p to the buffer and evicts the oldest bytes when the capacity
// is exceeded. After Add returns, Len() <= capacity and the retained bytes
// are the most recently added ones in append order.
func (b *Buffer) Add(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	b.data = append(b.data, p...)

	dropped := 0
	if len(b.data) > b.max {
		dropped = len(b.data) - b.max
		keep := b.data[dropped:]

		// Copy to a fresh slice so evicted bytes can be garbage collected.
		fresh := make([]byte, len(keep))
		copy(fresh, keep)
		b.data = fresh
		b.start += uint64(dropped)
	}
	hook := b.onEvict
	b.mu.Unlock()

	if dropped > 0 && hook != nil {
		hook(dropped)
	}
}

// PeekAll returns a copy of the current buffer contents in append order.
// The caller owns the returned slice.
func (b *Buffer) PeekAll() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Tail returns a copy of the buffered bytes at stream offsets >= offset,
// along with the offset to pass on the next call. A reader that polls Tail
// with the returned cursor consumes the stream exactly once without ever
// blocking the writer.
//
// gapped reports that eviction overtook the cursor, i.e. bytes between
// offset and the oldest retained byte were lost before the reader saw them.
func (b *Buffer) Tail(offset uint64) (data []byte, next uint64, gapped bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	end := b.start + uint64(len(b.data))
	if offset < b.start {
		gapped = true
		offset = b.start
	}
	if offset >= end {
		return nil, end, gapped
	}

	out := make([]byte, end-offset)
	copy(out, b.data[offset-b.start:])
	return out, end, gapped
}

// Len returns the number of currently buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Clear discards all buffered bytes. Readers holding a cursor into the
// discarded region observe a gap on their next Tail call.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.start += uint64(len(b.data))
	b.data = nil
}
