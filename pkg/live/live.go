// Package live defines the transport abstraction for realtime duplex audio
// sessions with a generative-audio endpoint.
//
// A [Session] surfaces everything the server does on a single ordered event
// channel: audio arrives as [AudioEvent], barge-in as [InterruptedEvent],
// and the terminal [ClosedEvent] is always the last event before the channel
// closes. Consumers that process the channel in order therefore never apply
// an interruption out of order with the audio around it.
package live

import (
	"context"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
)

// SessionConfig carries the per-session parameters handed to Connect.
// Endpoint-level settings (model, base URL, API key) are provider options.
type SessionConfig struct {
	// Voice is the provider voice name (e.g., "Kore").
	Voice string

	// Instructions is the system persona for the session. The surrounding
	// application embeds its display conventions here; the transport treats
	// it as opaque text.
	Instructions string
}

// Transport establishes live sessions. Implementations must not reconnect
// on their own: a failed session surfaces an ErrorEvent and ClosedEvent and
// the owner decides whether to build a new one.
type Transport interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one live connection. SendAudio and SendText may be called from
// any goroutine; Events must be consumed by a single goroutine.
type Session interface {
	// Events returns the ordered event stream. The channel is closed after
	// the terminal ClosedEvent has been delivered.
	Events() <-chan Event

	// SendAudio transmits one encoded microphone payload. Audio is best
	// effort: an error means the payload was not delivered, never that it
	// was queued.
	SendAudio(blob audio.Blob) error

	// SendText injects a text turn into the conversation.
	SendText(text string) error

	// Err returns the first error that terminated the session, if any.
	Err() error

	// Close terminates the session and releases resources. Idempotent.
	Close() error
}

// Event is the interface implemented by all session event types.
type Event interface {
	isEvent()
}

// OpenEvent signals that the server acknowledged session setup. Audio may
// be sent from this point on.
type OpenEvent struct{}

// AudioEvent carries one synthesized audio payload, still in wire form.
type AudioEvent struct {
	Blob audio.Blob
}

// InterruptedEvent signals that the user barged in: all queued and playing
// audio from the current response is stale and must be discarded.
type InterruptedEvent struct{}

// CaptionEvent carries a transcription fragment of either side of the
// conversation. Display-only.
type CaptionEvent struct {
	// Speaker is "user" or "model".
	Speaker string
	Text    string
}

// ErrorEvent carries a server-reported or transport error. A fatal error is
// followed by a ClosedEvent.
type ErrorEvent struct {
	Err error
}

// ClosedEvent is the terminal event of every session.
type ClosedEvent struct {
	// Reason is a short human-readable cause ("closed", "read: EOF", ...).
	Reason string
}

func (OpenEvent) isEvent()        {}
func (AudioEvent) isEvent()       {}
func (InterruptedEvent) isEvent() {}
func (CaptionEvent) isEvent()     {}
func (ErrorEvent) isEvent()       {}
func (ClosedEvent) isEvent()      {}
