// Package ws carries a voice session over a single WebSocket: binary
// messages are inbound audio frames, text messages are control commands in
// and events out.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/events"
)

const (
	DefaultFrameBuffer  = 256
	DefaultWriteTimeout = 5 * time.Second
	DefaultReadLimit    = 1 << 20
)

var ErrClosed = errors.New("connection closed")

// Conn adapts a WebSocket connection to an inbound audio track and an
// outbound event channel.
type Conn struct {
	conn *websocket.Conn

	format       audio.SampleFormat
	sampleRate   int
	writeTimeout time.Duration
	readLimit    int64

	frames  chan audio.Frame
	ended   chan struct{}
	endOnce sync.Once

	open      atomic.Bool
	closeOnce sync.Once
	closeErr  error

	writeMu sync.Mutex

	droppedFrames  atomic.Int64
	onFrameDropped func()
}

type Option func(*Conn)

// WithSampleFormat sets the layout of inbound binary frames. Defaults to
// signed 16-bit.
func WithSampleFormat(format audio.SampleFormat) Option {
	return func(c *Conn) {
		if format.ByteSize() > 0 {
			c.format = format
		}
	}
}

func WithSampleRate(sampleRate int) Option {
	return func(c *Conn) {
		if sampleRate > 0 {
			c.sampleRate = sampleRate
		}
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Conn) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithFrameBuffer sets how many inbound frames may queue before new ones
// are dropped.
func WithFrameBuffer(size int) Option {
	return func(c *Conn) {
		if size > 0 {
			c.frames = make(chan audio.Frame, size)
		}
	}
}

func WithReadLimit(limit int64) Option {
	return func(c *Conn) {
		if limit > 0 {
			c.readLimit = limit
		}
	}
}

func WithOnFrameDropped(callback func()) Option {
	return func(c *Conn) { c.onFrameDropped = callback }
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Accept upgrades the request and wraps the resulting connection.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return NewConn(conn, opts...), nil
}

func NewConn(conn *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:         conn,
		format:       audio.SampleFormatS16,
		sampleRate:   audio.DefaultSampleRate,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
		frames:       make(chan audio.Frame, DefaultFrameBuffer),
		ended:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn.SetReadLimit(c.readLimit)
	c.open.Store(true)
	return c
}

// Serve pumps inbound messages until the peer disconnects or ctx is done.
// Audio is queued for ReadFrame, control messages are handed to onControl.
// A normal close by the peer is not an error.
func (c *Conn) Serve(ctx context.Context, onControl func(events.Control)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.markClosed()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || !c.open.Load() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return fmt.Errorf("failed to read websocket message: %w", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.pushFrame(data)
		case websocket.TextMessage:
			control, err := events.ParseControl(data)
			if err != nil {
				logger.WarnContext(ctx, "ignoring control message", "error", err)
				continue
			}
			if onControl != nil {
				onControl(control)
			}
		}
	}
}

func (c *Conn) pushFrame(data []byte) {
	select {
	case <-c.ended:
		return
	default:
	}

	frame := audio.Frame{
		Data:       data,
		Format:     c.format,
		SampleRate: c.sampleRate,
		Channels:   1,
	}

	select {
	case c.frames <- frame:
	default:
		c.droppedFrames.Add(1)
		if c.onFrameDropped != nil {
			c.onFrameDropped()
		}
	}
}

// ReadFrame returns the next queued frame. Once the track has ended the
// remaining queued frames are still returned, followed by io.EOF.
func (c *Conn) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.ended:
		select {
		case frame := <-c.frames:
			return frame, nil
		default:
			return audio.Frame{}, io.EOF
		}
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// EndTrack marks the inbound audio as complete. Frames arriving afterwards
// are ignored.
func (c *Conn) EndTrack() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *Conn) DroppedFrames() int64 {
	return c.droppedFrames.Load()
}

func (c *Conn) IsOpen() bool {
	return c.open.Load()
}

// Send writes payload as a single text message.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if !c.open.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

func (c *Conn) markClosed() {
	c.open.Store(false)
	c.EndTrack()
}

// Close sends a normal close frame and releases the connection. Safe to
// call more than once.
func (c *Conn) Close() error {
	return c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason is Close with an explicit close code. Only the first
// close takes effect.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.markClosed()

		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		closeMessage := websocket.FormatCloseMessage(code, reason)
		writeErr := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(c.writeTimeout))
		if errors.Is(writeErr, websocket.ErrCloseSent) {
			writeErr = nil
		}
		c.closeErr = errors.Join(writeErr, c.conn.Close())
	})
	return c.closeErr
}
