// Package mock provides scriptable implementations of the live transport
// interfaces for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
	"github.com/AravindYuvraj/realtime-tutor/pkg/live"
)

// Compile-time interface assertions.
var _ live.Transport = (*Transport)(nil)
var _ live.Session = (*Session)(nil)

// ErrClosed is returned by Session send methods after Close.
var ErrClosed = errors.New("mock: session closed")

// Transport implements live.Transport. Each Connect returns a fresh Session
// unless ConnectErr or ConnectFunc is set.
type Transport struct {
	mu sync.Mutex

	// ConnectErr, when non-nil, is returned by Connect.
	ConnectErr error

	// ConnectFunc, when non-nil, replaces the default Connect behaviour.
	// Used to block a connect attempt until the test releases it.
	ConnectFunc func(ctx context.Context, cfg live.SessionConfig) (live.Session, error)

	// ConnectCalls records the config of every Connect invocation.
	ConnectCalls []live.SessionConfig

	// Sessions holds every session handed out, in order.
	Sessions []*Session
}

func (t *Transport) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	t.mu.Lock()
	t.ConnectCalls = append(t.ConnectCalls, cfg)
	fn := t.ConnectFunc
	err := t.ConnectErr
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	s := NewSession()
	t.mu.Lock()
	t.Sessions = append(t.Sessions, s)
	t.mu.Unlock()
	return s, nil
}

// Last returns the most recently created session, or nil.
func (t *Transport) Last() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Sessions) == 0 {
		return nil
	}
	return t.Sessions[len(t.Sessions)-1]
}

// Session implements live.Session. Tests drive the event stream with Emit
// and inspect sent payloads via SentAudio/SentText.
type Session struct {
	// SendAudioErr, when non-nil, is returned by SendAudio.
	SendAudioErr error

	// SendTextErr, when non-nil, is returned by SendText.
	SendTextErr error

	events chan live.Event

	mu         sync.Mutex
	closed     bool
	errVal     error
	audioSent  []audio.Blob
	textSent   []string
	CloseCalls int
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit queues one event for delivery on Events.
func (s *Session) Emit(ev live.Event) {
	s.events <- ev
}

// EmitClosed queues the terminal ClosedEvent and closes the event channel.
func (s *Session) EmitClosed(reason string) {
	s.events <- live.ClosedEvent{Reason: reason}
	close(s.events)
}

// SetErr sets the value returned by Err.
func (s *Session) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errVal = err
}

func (s *Session) Events() <-chan live.Event { return s.events }

func (s *Session) SendAudio(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.audioSent = append(s.audioSent, blob)
	return nil
}

func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.textSent = append(s.textSent, text)
	return nil
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCalls++
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentAudio returns a snapshot of all blobs delivered via SendAudio.
func (s *Session) SentAudio() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Blob, len(s.audioSent))
	copy(out, s.audioSent)
	return out
}

// SentText returns a snapshot of all strings delivered via SendText.
func (s *Session) SentText() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.textSent))
	copy(out, s.textSent)
	return out
}
