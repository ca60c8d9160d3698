// Package capture bridges the microphone to the session layer: it pulls
// fixed-size PCM frames off an audio device and hands them to a callback.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
)

// ErrAlreadyStarted is returned by Start while a capture run is active.
var ErrAlreadyStarted = errors.New("capture: already started")

// Error wraps a device failure with a stable classification. Use
// [errors.Is] with [audio.ErrPermissionDenied] or
// [audio.ErrDeviceUnavailable] to branch on the cause.
type Error struct {
	Op  string // "open", "start", "read"
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("capture: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Bridge owns one microphone stream at a time. It is constructed around an
// injected [audio.Device] so tests can run against a mock and production
// against real hardware.
//
// Start and Stop may be called repeatedly; the zero state between runs is
// fully restored. Stop is synchronous: once it returns, the frame callback
// will not be invoked again.
type Bridge struct {
	device audio.Device
	cfg    audio.StreamConfig

	mu      sync.Mutex
	stream  audio.CaptureStream
	wg      *sync.WaitGroup // per run, so a restart never joins an old run
	running bool
}

// New creates a Bridge reading mono PCM16 from device with the given
// sample rate and frame size.
func New(device audio.Device, cfg audio.StreamConfig) *Bridge {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Bridge{device: device, cfg: cfg}
}

// Start opens the capture stream and begins delivering frames to onFrame
// from a dedicated reader goroutine. onFrame must not block: it receives a
// frame whose Data is owned by the callee and runs on the reader goroutine,
// so a slow callback stalls capture.
func (b *Bridge) Start(onFrame func(audio.Frame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyStarted
	}

	stream, err := b.device.OpenCapture(b.cfg)
	if err != nil {
		return &Error{Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &Error{Op: "start", Err: err}
	}

	wg := &sync.WaitGroup{}
	b.stream = stream
	b.wg = wg
	b.running = true
	wg.Add(1)
	go b.readLoop(wg, stream, onFrame)
	return nil
}

// Stop halts capture. Idempotent; safe to call while Start has never run.
// It blocks until the reader goroutine has exited, so no onFrame call can
// happen after Stop returns.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stream := b.stream
	wg := b.wg
	b.stream = nil
	b.wg = nil
	b.mu.Unlock()

	// Stop unblocks the reader's in-flight Read; then join it.
	if err := stream.Stop(); err != nil {
		slog.Warn("capture: stop stream", "err", err)
	}
	wg.Wait()
	if err := stream.Close(); err != nil {
		slog.Warn("capture: close stream", "err", err)
	}
}

// Running reports whether a capture run is active.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// readLoop pulls frames until the stream errors out (which includes the
// stop-induced unblock) and stamps them with their position on the capture
// timeline.
func (b *Bridge) readLoop(wg *sync.WaitGroup, stream audio.CaptureStream, onFrame func(audio.Frame)) {
	defer wg.Done()

	frameDur := audio.PCMDuration(b.cfg.FrameSamples*2, b.cfg.SampleRate)
	var elapsed time.Duration

	for {
		data, err := stream.Read()
		if err != nil {
			b.mu.Lock()
			stopped := !b.running
			b.mu.Unlock()
			if !stopped {
				slog.Warn("capture: read failed, stopping delivery", "err", err)
			}
			return
		}

		onFrame(audio.Frame{
			Data:       data,
			SampleRate: b.cfg.SampleRate,
			Channels:   b.cfg.Channels,
			Timestamp:  elapsed,
		})
		elapsed += frameDur
	}
}
