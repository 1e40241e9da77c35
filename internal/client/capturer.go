package client

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Camera acquisition failures are distinguishable so the UI can tell the
// user to grant permission versus plug in a device.
var (
	ErrCameraDenied      = errors.New("client: camera permission denied")
	ErrCameraUnavailable = errors.New("client: no camera device available")
)

const jpegQuality = 80

// VideoFrame is one decoded frame from a source. Release returns the
// backing buffer to the source; use after Release is invalid.
type VideoFrame struct {
	Image   image.Image
	Release func()
}

// FrameSource produces frames. Next blocks until a frame is available,
// the context is cancelled, or the source ends with io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (VideoFrame, error)
	Close() error
}

// FrameSender is the transport-facing half the capturer needs. Send drops
// the frame with ErrNotOpen when the socket is not open.
type FrameSender interface {
	Send(data []byte) error
	Status() Status
}

// FrameCapturer pulls frames from a source, JPEG-encodes them, and sends
// them at a bounded rate. Frames that arrive faster than the rate limit
// or while the transport is down are dropped, never buffered.
type FrameCapturer struct {
	source  FrameSource
	sender  FrameSender
	limiter *rate.Limiter
	log     *slog.Logger

	mu      sync.Mutex
	sent    int
	dropped int
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type CapturerConfig struct {
	Source FrameSource
	Sender FrameSender

	// FramesPerSecond bounds the send rate. Defaults to 1 fps.
	FramesPerSecond float64

	Logger *slog.Logger
}

func NewFrameCapturer(cfg CapturerConfig) (*FrameCapturer, error) {
	if cfg.Source == nil {
		return nil, errors.New("client: capturer requires a frame source")
	}
	if cfg.Sender == nil {
		return nil, errors.New("client: capturer requires a frame sender")
	}
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	burst := int(cfg.FramesPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &FrameCapturer{
		source:  cfg.Source,
		sender:  cfg.Sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.FramesPerSecond), burst),
		log:     cfg.Logger.With("component", "frame-capturer"),
	}, nil
}

// Start launches the capture loop. Cancelling ctx or calling Stop ends it.
func (c *FrameCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errors.New("client: capturer already stopped")
	}
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("client: capturer already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
	return nil
}

func (c *FrameCapturer) run(ctx context.Context) {
	for {
		frame, err := c.source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return
			}
			c.log.Error("frame source failed", "error", err)
			return
		}

		c.handleFrame(frame)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *FrameCapturer) handleFrame(frame VideoFrame) {
	defer func() {
		if frame.Release != nil {
			frame.Release()
		}
	}()

	if !c.limiter.Allow() {
		c.recordDrop()
		return
	}
	if c.sender.Status() != StatusOpen {
		c.recordDrop()
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: jpegQuality}); err != nil {
		c.log.Warn("jpeg encode failed", "error", err)
		return
	}

	if err := c.sender.Send(buf.Bytes()); err != nil {
		if errors.Is(err, ErrNotOpen) {
			c.recordDrop()
			return
		}
		c.log.Warn("frame send failed", "error", err)
		return
	}

	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

func (c *FrameCapturer) recordDrop() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

// Stats reports sent and dropped frame counts since construction.
func (c *FrameCapturer) Stats() (sent, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.dropped
}

// Stop ends the loop, waits for it, and closes the source. Idempotent.
func (c *FrameCapturer) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return c.source.Close()
}
