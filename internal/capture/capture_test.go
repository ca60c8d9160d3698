package capture_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AravindYuvraj/realtime-tutor/internal/capture"
	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
	audiomock "github.com/AravindYuvraj/realtime-tutor/pkg/audio/mock"
)

var testCfg = audio.StreamConfig{SampleRate: 16000, Channels: 1, FrameSamples: 256}

// frameCollector is a thread-safe onFrame recorder.
type frameCollector struct {
	mu     sync.Mutex
	frames []audio.Frame
}

func (c *frameCollector) onFrame(f audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *frameCollector) snapshot() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestStart_DeliversFramesWithTimestamps(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureResult: audiomock.NewCaptureStream()}
	b := capture.New(dev, testCfg)

	var col frameCollector
	if err := b.Start(col.onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	dev.CaptureResult.Emit(make([]byte, 512))
	dev.CaptureResult.Emit(make([]byte, 512))
	waitFor(t, "two frames", func() bool { return col.count() == 2 })

	frames := col.snapshot()
	if frames[0].SampleRate != 16000 || frames[0].Channels != 1 {
		t.Errorf("frame format = %d Hz / %d ch; want 16000 / 1", frames[0].SampleRate, frames[0].Channels)
	}
	if frames[0].Timestamp != 0 {
		t.Errorf("first frame timestamp = %v; want 0", frames[0].Timestamp)
	}
	if want := 16 * time.Millisecond; frames[1].Timestamp != want {
		t.Errorf("second frame timestamp = %v; want %v", frames[1].Timestamp, want)
	}
}

func TestStart_WhileRunning(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureResult: audiomock.NewCaptureStream()}
	b := capture.New(dev, testCfg)

	if err := b.Start(func(audio.Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	if err := b.Start(func(audio.Frame) {}); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Errorf("second Start error = %v; want ErrAlreadyStarted", err)
	}
}

func TestStart_OpenFailureClassified(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{
		OpenCaptureErr: fmt.Errorf("host: %w", audio.ErrPermissionDenied),
	}
	b := capture.New(dev, testCfg)

	err := b.Start(func(audio.Frame) {})
	if err == nil {
		t.Fatal("Start succeeded with a failing device")
	}
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("error = %v; want to match audio.ErrPermissionDenied", err)
	}
	var ce *capture.Error
	if !errors.As(err, &ce) || ce.Op != "open" {
		t.Errorf("error = %v; want *capture.Error with Op=open", err)
	}
	if b.Running() {
		t.Error("bridge reports running after failed Start")
	}
}

func TestStart_StreamStartFailureClosesStream(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewCaptureStream()
	stream.StartErr = fmt.Errorf("host: %w", audio.ErrDeviceUnavailable)
	dev := &audiomock.Device{CaptureResult: stream}
	b := capture.New(dev, testCfg)

	err := b.Start(func(audio.Frame) {})
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("error = %v; want to match audio.ErrDeviceUnavailable", err)
	}
	if stream.CloseCalls != 1 {
		t.Errorf("CloseCalls = %d; want 1 (stream released on failed start)", stream.CloseCalls)
	}
}

func TestStop_NoFramesAfterReturn(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureResult: audiomock.NewCaptureStream()}
	b := capture.New(dev, testCfg)

	var col frameCollector
	if err := b.Start(col.onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev.CaptureResult.Emit(make([]byte, 512))
	waitFor(t, "one frame", func() bool { return col.count() == 1 })

	b.Stop()
	seen := col.count()

	// Frames queued in the device after Stop must never reach the callback.
	dev.CaptureResult.Emit(make([]byte, 512))
	time.Sleep(20 * time.Millisecond)
	if got := col.count(); got != seen {
		t.Errorf("frames after Stop = %d; want %d", got, seen)
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureResult: audiomock.NewCaptureStream()}
	b := capture.New(dev, testCfg)

	b.Stop() // before any Start

	if err := b.Start(func(audio.Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.Stop()
	b.Stop()

	if got := dev.CaptureResult.CloseCalls; got != 1 {
		t.Errorf("CloseCalls = %d; want 1", got)
	}
}

func TestRestart_AfterStop(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{}
	b := capture.New(dev, testCfg)

	var col frameCollector
	if err := b.Start(col.onFrame); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	b.Stop()

	// The first run's stream is stopped; give the bridge a fresh one.
	dev.CaptureResult = audiomock.NewCaptureStream()
	if err := b.Start(col.onFrame); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer b.Stop()

	dev.CaptureResult.Emit(make([]byte, 512))
	waitFor(t, "frame from second run", func() bool { return col.count() >= 1 })
}
