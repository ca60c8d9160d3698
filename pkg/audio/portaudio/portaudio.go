// Package portaudio implements the audio device interfaces on top of the
// PortAudio host API. It is the only package in the tree that touches real
// sound hardware, keeping cgo out of everything else.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
)

// Compile-time interface assertions.
var _ audio.Device = (*Device)(nil)
var _ audio.CaptureStream = (*captureStream)(nil)
var _ audio.PlaybackStream = (*playbackStream)(nil)

var (
	initOnce sync.Once
	initErr  error
)

// Device opens default-device streams via PortAudio.
type Device struct{}

// New initialises the PortAudio host (once per process) and returns a Device.
func New() (*Device, error) {
	initOnce.Do(func() { initErr = portaudio.Initialize() })
	if initErr != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w", classify(initErr))
	}
	return &Device{}, nil
}

// Terminate releases the PortAudio host. Call once at process shutdown.
func Terminate() error {
	return portaudio.Terminate()
}

// Check reports whether default input and output devices are present. It
// queries the host without opening a stream, so it is cheap enough to run on
// every readiness probe.
func (d *Device) Check() error {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("portaudio: default input: %w", classify(err))
	}
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		return fmt.Errorf("portaudio: default output: %w", classify(err))
	}
	return nil
}

// OpenCapture opens the default input device as a mono PCM16 stream.
func (d *Device) OpenCapture(cfg audio.StreamConfig) (audio.CaptureStream, error) {
	buf := make([]int16, cfg.FrameSamples*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open capture: %w", classify(err))
	}
	return &captureStream{stream: stream, buf: buf}, nil
}

// OpenPlayback opens the default output device as a mono PCM16 stream. The
// stream is started immediately so the first Play does not stall.
func (d *Device) OpenPlayback(cfg audio.StreamConfig) (audio.PlaybackStream, error) {
	buf := make([]int16, cfg.FrameSamples*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FrameSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open playback: %w", classify(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start playback: %w", classify(err))
	}
	return &playbackStream{stream: stream, buf: buf}, nil
}

// ── capture ────────────────────────────────────────────────────────────────────

type captureStream struct {
	stream *portaudio.Stream
	buf    []int16

	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (c *captureStream) Start() error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start capture: %w", classify(err))
	}
	return nil
}

func (c *captureStream) Read() ([]byte, error) {
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("portaudio: read: %w", classify(err))
	}
	// Copy out: c.buf is reused by the next device read.
	out := make([]byte, len(c.buf)*2)
	for i, s := range c.buf {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

func (c *captureStream) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	// Abort discards buffered input and unblocks an in-flight Read.
	if err := c.stream.Abort(); err != nil {
		return fmt.Errorf("portaudio: stop capture: %w", classify(err))
	}
	return nil
}

func (c *captureStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}

// ── playback ───────────────────────────────────────────────────────────────────

type playbackStream struct {
	stream *portaudio.Stream
	buf    []int16

	// writeMu serializes Play callers: buf and the device write cursor are
	// shared, and a caller's Write can outlast its chunk's nominal end.
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func (p *playbackStream) Play(ctx context.Context, pcm []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	frameBytes := len(p.buf) * 2
	for off := 0; off < len(pcm); off += frameBytes {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(off+frameBytes, len(pcm))
		chunk := pcm[off:end]
		for i := range p.buf {
			if i*2+1 < len(chunk) {
				p.buf[i] = int16(chunk[i*2]) | int16(chunk[i*2+1])<<8
			} else {
				p.buf[i] = 0 // pad the final partial buffer with silence
			}
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", classify(err))
		}
	}
	return nil
}

func (p *playbackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.stream.Close()
}

// ── error classification ───────────────────────────────────────────────────────

// classify maps PortAudio failures onto the audio package sentinels so
// callers can distinguish missing hardware from denied access.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, portaudio.DeviceUnavailable) || errors.Is(err, portaudio.InvalidDevice) {
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	case strings.Contains(msg, "no default") || strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	return err
}
