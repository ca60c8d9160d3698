package audio

import (
	"context"
	"errors"
)

// Sentinel errors reported by device implementations. Wrap with %w so
// callers can classify failures with [errors.Is].
var (
	// ErrPermissionDenied means the host refused microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable means no usable input or output device exists.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// StreamConfig describes the PCM format of a device stream.
type StreamConfig struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels per sample frame. This pipeline only opens mono streams.
	Channels int

	// FrameSamples is the number of samples delivered or consumed per
	// device read/write (e.g., 256 for 16 ms at 16 kHz).
	FrameSamples int
}

// Device opens streams on the host sound hardware. Implementations live in
// subpackages (portaudio for real hardware, mock for tests) so this package
// stays free of cgo.
type Device interface {
	// OpenCapture opens a microphone stream. The stream is created stopped;
	// call [CaptureStream.Start] before reading.
	OpenCapture(cfg StreamConfig) (CaptureStream, error)

	// OpenPlayback opens a speaker stream ready for [PlaybackStream.Play].
	OpenPlayback(cfg StreamConfig) (PlaybackStream, error)
}

// CaptureStream delivers fixed-size PCM16 frames from the microphone.
type CaptureStream interface {
	// Start begins capturing.
	Start() error

	// Read blocks until one frame of StreamConfig.FrameSamples samples is
	// available and returns it as s16le bytes. The returned slice is owned
	// by the caller. Read returns an error after Stop or on device failure.
	Read() ([]byte, error)

	// Stop halts capturing and unblocks any in-flight Read. Idempotent.
	Stop() error

	// Close releases the stream. Idempotent.
	Close() error
}

// PlaybackStream plays PCM16 audio on the speaker.
type PlaybackStream interface {
	// Play writes pcm (s16le, mono at the stream rate) and blocks until the
	// audio has been handed to the device or ctx is cancelled. Cancellation
	// abandons the remainder of pcm.
	Play(ctx context.Context, pcm []byte) error

	// Close releases the stream. Idempotent.
	Close() error
}
