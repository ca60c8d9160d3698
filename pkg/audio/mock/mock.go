// Package mock provides in-memory implementations of the audio device
// interfaces for tests. All mocks record their calls and expose Result/Err
// fields so tests can script behaviour without real hardware.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
)

// Compile-time interface assertions.
var _ audio.Device = (*Device)(nil)
var _ audio.CaptureStream = (*CaptureStream)(nil)
var _ audio.PlaybackStream = (*PlaybackStream)(nil)

// ErrStopped is returned by CaptureStream.Read after Stop.
var ErrStopped = errors.New("mock: capture stream stopped")

// Device implements audio.Device. Zero value is usable: streams are created
// lazily on first open.
type Device struct {
	mu sync.Mutex

	// OpenCaptureErr, when non-nil, is returned by OpenCapture.
	OpenCaptureErr error

	// OpenPlaybackErr, when non-nil, is returned by OpenPlayback.
	OpenPlaybackErr error

	// CaptureResult is the stream returned by OpenCapture. Created lazily
	// when nil.
	CaptureResult *CaptureStream

	// PlaybackResult is the stream returned by OpenPlayback. Created lazily
	// when nil.
	PlaybackResult *PlaybackStream

	// Recorded calls.
	OpenCaptureCalls  []audio.StreamConfig
	OpenPlaybackCalls []audio.StreamConfig
}

func (d *Device) OpenCapture(cfg audio.StreamConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCaptureCalls = append(d.OpenCaptureCalls, cfg)
	if d.OpenCaptureErr != nil {
		return nil, d.OpenCaptureErr
	}
	if d.CaptureResult == nil {
		d.CaptureResult = NewCaptureStream()
	}
	return d.CaptureResult, nil
}

func (d *Device) OpenPlayback(cfg audio.StreamConfig) (audio.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenPlaybackCalls = append(d.OpenPlaybackCalls, cfg)
	if d.OpenPlaybackErr != nil {
		return nil, d.OpenPlaybackErr
	}
	if d.PlaybackResult == nil {
		d.PlaybackResult = &PlaybackStream{}
	}
	return d.PlaybackResult, nil
}

// CaptureStream implements audio.CaptureStream. Tests feed frames with
// [CaptureStream.Emit]; Read blocks until a frame is available or the
// stream is stopped.
type CaptureStream struct {
	// StartErr, when non-nil, is returned by Start.
	StartErr error

	// ReadErr, when non-nil, is returned by the next Read instead of a frame.
	ReadErr error

	frames chan []byte

	mu         sync.Mutex
	stopped    chan struct{}
	StartCalls int
	StopCalls  int
	CloseCalls int
}

// NewCaptureStream returns a CaptureStream with a buffered frame queue.
func NewCaptureStream() *CaptureStream {
	return &CaptureStream{
		frames:  make(chan []byte, 64),
		stopped: make(chan struct{}),
	}
}

// Emit queues one frame of PCM for delivery to Read.
func (c *CaptureStream) Emit(pcm []byte) {
	c.frames <- pcm
}

func (c *CaptureStream) Start() error {
	c.mu.Lock()
	c.StartCalls++
	c.mu.Unlock()
	return c.StartErr
}

func (c *CaptureStream) Read() ([]byte, error) {
	c.mu.Lock()
	err := c.ReadErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case pcm := <-c.frames:
		return pcm, nil
	case <-c.stopped:
		return nil, ErrStopped
	}
}

func (c *CaptureStream) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCalls++
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
	return nil
}

func (c *CaptureStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// PlayCall records one PlaybackStream.Play invocation.
type PlayCall struct {
	PCM []byte

	// Cancelled reports whether the call returned due to ctx cancellation.
	Cancelled bool
}

// PlaybackStream implements audio.PlaybackStream. By default Play returns
// immediately; set Block to make it wait for ctx cancellation or [Release],
// which is how tests simulate audio that takes time to drain.
type PlaybackStream struct {
	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	// Block makes Play wait until ctx is cancelled or Release is called.
	Block bool

	mu         sync.Mutex
	release    chan struct{}
	Calls      []PlayCall
	CloseCalls int
}

func (p *PlaybackStream) Play(ctx context.Context, pcm []byte) error {
	// Record on entry so tests can observe calls that are still blocked.
	idx := p.record(pcm)
	if p.PlayErr != nil {
		return p.PlayErr
	}
	if !p.Block {
		return nil
	}

	p.mu.Lock()
	if p.release == nil {
		p.release = make(chan struct{}, 16)
	}
	release := p.release
	p.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		p.markCancelled(idx)
		return ctx.Err()
	}
}

// Release unblocks one pending Play call when Block is set.
func (p *PlaybackStream) Release() {
	p.mu.Lock()
	if p.release == nil {
		p.release = make(chan struct{}, 16)
	}
	release := p.release
	p.mu.Unlock()
	release <- struct{}{}
}

func (p *PlaybackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}

func (p *PlaybackStream) record(pcm []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, PlayCall{PCM: pcm})
	return len(p.Calls) - 1
}

func (p *PlaybackStream) markCancelled(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls[idx].Cancelled = true
}

// Played returns a snapshot of all recorded Play calls.
func (p *PlaybackStream) Played() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.Calls))
	copy(out, p.Calls)
	return out
}
