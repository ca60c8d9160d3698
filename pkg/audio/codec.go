package audio

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// mimePCM is the only codec understood on the wire.
const mimePCM = "audio/pcm"

// PCMMIMEType returns the wire MIME type for raw PCM at the given rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", mimePCM, rate)
}

// DecodeError describes a malformed inbound audio payload. Decode failures
// are recoverable: callers drop the chunk and keep the session alive.
type DecodeError struct {
	MIMEType string
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode %q: %s: %v", e.MIMEType, e.Reason, e.Err)
	}
	return fmt.Sprintf("audio: decode %q: %s", e.MIMEType, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode converts a captured frame into its wire form. It is deterministic
// and never fails on a well-formed frame; a stray trailing byte (torn int16
// sample) is truncated so the wire payload is always sample-aligned.
func Encode(f Frame) Blob {
	data := f.Data
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	return Blob{
		MIMEType: PCMMIMEType(f.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// Decode converts a wire payload into a playable chunk at outRate Hz,
// resampling when the payload rate differs. When outRate is zero the
// payload's own rate is kept. All failures are returned as a [*DecodeError].
func Decode(b Blob, outRate int) (Chunk, error) {
	rate, err := parsePCMRate(b.MIMEType)
	if err != nil {
		return Chunk{}, &DecodeError{MIMEType: b.MIMEType, Reason: "unsupported mime type", Err: err}
	}

	pcm, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return Chunk{}, &DecodeError{MIMEType: b.MIMEType, Reason: "invalid base64", Err: err}
	}
	if len(pcm) == 0 {
		return Chunk{}, &DecodeError{MIMEType: b.MIMEType, Reason: "empty payload"}
	}
	if len(pcm)%2 != 0 {
		return Chunk{}, &DecodeError{MIMEType: b.MIMEType, Reason: fmt.Sprintf("odd byte count %d", len(pcm))}
	}

	if outRate <= 0 {
		outRate = rate
	}
	if rate != outRate {
		pcm = ResampleMono16(pcm, rate, outRate)
	}

	return Chunk{
		PCM:        pcm,
		SampleRate: outRate,
		Duration:   PCMDuration(len(pcm), outRate),
	}, nil
}

// parsePCMRate extracts the sample rate from a MIME type of the form
// "audio/pcm;rate=16000". Parameter order and surrounding whitespace are
// tolerated; the rate parameter itself is required.
func parsePCMRate(mime string) (int, error) {
	parts := strings.Split(mime, ";")
	if !strings.EqualFold(strings.TrimSpace(parts[0]), mimePCM) {
		return 0, fmt.Errorf("want %s, got %q", mimePCM, strings.TrimSpace(parts[0]))
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if v, ok := strings.CutPrefix(p, "rate="); ok {
			rate, err := strconv.Atoi(v)
			if err != nil || rate <= 0 {
				return 0, fmt.Errorf("bad rate parameter %q", v)
			}
			return rate, nil
		}
	}
	return 0, fmt.Errorf("missing rate parameter in %q", mime)
}
