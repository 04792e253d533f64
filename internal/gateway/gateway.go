// Package gateway serves the websocket streaming endpoint.
//
// A client opens one websocket per audio stream, sends a JSON start frame
// negotiating its PCM format (or Opus), then streams binary audio frames
// and finally a stop frame. The gateway converts incoming audio to the
// pipeline format, feeds it to a Session, and writes one result event per
// detected turn back over the socket: a JSON text message followed, when
// the turn produced audio, by one binary message with the spoken reply.
// The event/audio pair is written atomically per turn; turns may be
// delivered out of order.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/types"
)

// Codecs accepted in the start frame.
const (
	CodecPCM16 = "pcm16"
	CodecOpus  = "opus"
)

// errProtocol marks client protocol violations; the connection is closed
// with StatusPolicyViolation.
var errProtocol = errors.New("protocol violation")

// NewSessionFunc builds the Session for one accepted connection. deliver
// receives each turn's result and may be invoked from multiple goroutines.
type NewSessionFunc func(deliver func(types.PipelineResult)) *session.Session

// Handler upgrades stream requests and runs one Session per connection.
type Handler struct {
	format     audio.Format
	manager    *session.Manager
	newSession NewSessionFunc

	originPatterns []string
}

// Option configures a Handler.
type Option func(*Handler)

// WithOriginPatterns allows cross-origin browser connections matching the
// given host patterns. By default only same-origin browser requests are
// accepted; non-browser clients are unaffected.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// New creates a Handler that converts client audio into format and tracks
// its sessions in manager.
func New(format audio.Format, manager *session.Manager, newSession NewSessionFunc, opts ...Option) *Handler {
	h := &Handler{
		format:     format,
		manager:    manager,
		newSession: newSession,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// controlFrame is a JSON text message from the client.
type controlFrame struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

// resultEvent is the JSON text message written per completed turn.
type resultEvent struct {
	Type        string            `json:"type"`
	TurnID      string            `json:"turn_id"`
	Transcript  string            `json:"transcript"`
	Reply       string            `json:"reply"`
	StageErrors map[string]string `json:"stage_errors,omitempty"`
	HasAudio    bool              `json:"has_audio"`
	SampleRate  int               `json:"sample_rate,omitempty"`
}

// ServeHTTP upgrades the request and serves the stream until the client
// stops, disconnects, or violates the protocol.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	err = h.serve(r.Context(), conn)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, errProtocol):
		log.Warn("stream closed on protocol violation", slog.String("error", err.Error()))
		conn.Close(websocket.StatusPolicyViolation, err.Error())
	default:
		log.Warn("stream failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusInternalError, "stream failed")
	}
}

// serve negotiates the stream format, then pumps frames into the session
// while its Run loop detects turns and delivers results.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) error {
	start, err := readStart(ctx, conn)
	if err != nil {
		return err
	}

	src := audio.Format{SampleRate: start.SampleRate, Channels: start.Channels}
	var decoder *audio.OpusDecoder
	if start.Codec == CodecOpus {
		decoder, err = audio.NewOpusDecoder(start.Channels)
		if err != nil {
			return err
		}
		src = decoder.Format()
	}

	writer := &resultWriter{ctx: ctx, conn: conn}
	sess := h.newSession(writer.deliver)
	h.manager.Add(sess)
	defer h.manager.Remove(sess.ID())

	observe.Logger(ctx).Info("stream opened",
		slog.String("session_id", sess.ID()),
		slog.String("codec", start.Codec),
		slog.String("format", src.String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		defer sess.Close()
		return h.readFrames(gctx, conn, sess, decoder, src)
	})
	return g.Wait()
}

// readStart reads and validates the mandatory start control frame.
func readStart(ctx context.Context, conn *websocket.Conn) (controlFrame, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return controlFrame{}, fmt.Errorf("gateway: read start frame: %w", err)
	}
	if typ != websocket.MessageText {
		return controlFrame{}, fmt.Errorf("gateway: %w: expected start frame before audio", errProtocol)
	}

	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return controlFrame{}, fmt.Errorf("gateway: %w: malformed control frame: %v", errProtocol, err)
	}
	if frame.Type != "start" {
		return controlFrame{}, fmt.Errorf("gateway: %w: expected start frame, got %q", errProtocol, frame.Type)
	}

	switch frame.Codec {
	case "", CodecPCM16:
		frame.Codec = CodecPCM16
		if frame.SampleRate <= 0 {
			return controlFrame{}, fmt.Errorf("gateway: %w: sample_rate required for pcm16", errProtocol)
		}
	case CodecOpus:
		// Opus streams are always 48 kHz; the frame's sample_rate is ignored.
	default:
		return controlFrame{}, fmt.Errorf("gateway: %w: unsupported codec %q", errProtocol, frame.Codec)
	}
	if frame.Channels != 1 && frame.Channels != 2 {
		return controlFrame{}, fmt.Errorf("gateway: %w: channels must be 1 or 2", errProtocol)
	}
	return frame, nil
}

// readFrames pumps client messages into the session until a stop frame or
// disconnect. Undecodable audio frames are dropped; the stream continues
// with a gap.
func (h *Handler) readFrames(ctx context.Context, conn *websocket.Conn, sess *session.Session, decoder *audio.OpusDecoder, src audio.Format) error {
	conv := &audio.Converter{Target: h.format}
	var seq uint64
	var ingested int

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("gateway: read: %w", err)
		}

		switch typ {
		case websocket.MessageText:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				return fmt.Errorf("gateway: %w: malformed control frame: %v", errProtocol, err)
			}
			switch frame.Type {
			case "stop":
				return nil
			case "start":
				return fmt.Errorf("gateway: %w: duplicate start frame", errProtocol)
			default:
				// Unknown control types are ignored for forward compatibility.
			}

		case websocket.MessageBinary:
			pcm := data
			if decoder != nil {
				pcm, err = decoder.Decode(data)
				if err != nil {
					observe.Logger(ctx).Debug("dropping undecodable audio frame",
						slog.String("session_id", sess.ID()),
						slog.String("error", err.Error()))
					continue
				}
			}
			pcm = conv.Convert(pcm, src)
			seq++
			sess.Ingest(types.AudioFrame{
				Data:       pcm,
				SampleRate: h.format.SampleRate,
				Channels:   h.format.Channels,
				Seq:        seq,
				Timestamp:  h.format.Duration(ingested),
			})
			ingested += len(pcm)
		}
	}
}

// resultWriter serializes per-turn writes so the JSON event and its audio
// blob always land adjacently on the wire. After the first write error all
// further deliveries are dropped; the read side tears the stream down.
type resultWriter struct {
	ctx  context.Context
	conn *websocket.Conn

	mu  sync.Mutex
	err error
}

func (w *resultWriter) deliver(res types.PipelineResult) {
	evt := resultEvent{
		Type:       "result",
		TurnID:     res.TurnID,
		Transcript: res.Transcript,
		Reply:      res.Reply,
		HasAudio:   len(res.Audio) > 0,
	}
	if evt.HasAudio {
		evt.SampleRate = res.SampleRate
	}
	if len(res.StageErrors) > 0 {
		evt.StageErrors = make(map[string]string, len(res.StageErrors))
		for stage, kind := range res.StageErrors {
			evt.StageErrors[string(stage)] = string(kind)
		}
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if err := w.conn.Write(w.ctx, websocket.MessageText, payload); err != nil {
		w.err = err
		return
	}
	if evt.HasAudio {
		if err := w.conn.Write(w.ctx, websocket.MessageBinary, res.Audio); err != nil {
			w.err = err
		}
	}
}
