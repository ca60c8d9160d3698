// Package audio defines the PCM data types shared by the capture, codec,
// and playback layers, plus the device abstraction used to open real or
// mock sound streams.
//
// All audio in the pipeline is little-endian signed 16-bit PCM, mono.
// Microphone frames travel at the capture rate (typically 16 kHz); model
// audio is decoded and resampled to the playback rate (typically 24 kHz).
package audio

import "time"

// Frame is one fixed-size slice of microphone audio flowing towards the
// session transport. Frames are immutable once produced: the capture layer
// copies device buffers before handing them out.
type Frame struct {
	// Data is little-endian int16 PCM (2 bytes per sample).
	Data []byte

	// SampleRate in Hz (e.g., 16000 for model input).
	SampleRate int

	// Channels: always 1 in this pipeline; kept explicit so corrupt frames
	// can be detected rather than misinterpreted.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Blob is the wire form of an audio payload: base64-encoded PCM plus a MIME
// type carrying the codec and sample rate (e.g., "audio/pcm;rate=16000").
type Blob struct {
	MIMEType string
	Data     string // base64-encoded
}

// Chunk is a decoded model-audio payload, already resampled to the playback
// rate. Chunks exist only between decode and playback scheduling.
type Chunk struct {
	// PCM is little-endian int16 mono audio at SampleRate.
	PCM []byte

	// SampleRate in Hz (e.g., 24000 for model output).
	SampleRate int

	// Duration is the play time of PCM at SampleRate.
	Duration time.Duration
}

// PCMDuration returns the play time of n bytes of mono s16le PCM at rate Hz.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
