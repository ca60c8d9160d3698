// Package session owns the lifecycle of one live tutoring conversation:
// it drives the transport, pumps microphone frames out, routes model audio
// into the playback scheduler, and applies barge-in interruptions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AravindYuvraj/realtime-tutor/internal/capture"
	"github.com/AravindYuvraj/realtime-tutor/internal/observe"
	"github.com/AravindYuvraj/realtime-tutor/internal/playback"
	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
	"github.com/AravindYuvraj/realtime-tutor/pkg/live"
)

// State is the lifecycle phase of the controller.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateConnected
	StateRecording
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrNotConnected is returned by operations that require a live session.
var ErrNotConnected = errors.New("session: not connected")

// Config carries the session parameters and audio format knobs.
type Config struct {
	// Voice is the provider voice name.
	Voice string

	// Instructions is the persona text for the session.
	Instructions string

	// OutputRate is the playback sample rate chunks are decoded to.
	OutputRate int
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithMetrics overrides the metrics instance. Used by tests to avoid the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the state machine at the centre of the client:
//
//	Idle → Initializing → Connected ⇄ Recording
//
// with Error reachable from any state on transport failure and Closed as
// the terminal state until Reset. All server events are consumed in arrival
// order by a single goroutine per session, so an interruption always
// applies before any audio that followed it on the wire.
type Controller struct {
	transport live.Transport
	capture   *capture.Bridge
	sched     *playback.Scheduler
	cfg       Config
	metrics   *observe.Metrics

	mu        sync.Mutex
	state     State
	sess      live.Session
	gen       uint64 // bumped on every connect/reset; stale work checks it
	recording bool

	onStatus  func(status string)
	onError   func(msg string)
	onCaption func(speaker, text string)
}

// New creates a Controller in StateIdle.
func New(transport live.Transport, bridge *capture.Bridge, sched *playback.Scheduler, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		capture:   bridge,
		sched:     sched,
		cfg:       cfg,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// OnStatus registers a callback for state announcements. Set before Connect.
func (c *Controller) OnStatus(fn func(status string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// OnError registers a callback for surfaced errors. Set before Connect.
func (c *Controller) OnError(fn func(msg string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnCaption registers a callback for transcription fragments. Set before
// Connect.
func (c *Controller) OnCaption(fn func(speaker, text string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCaption = fn
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes a live session. Valid from Idle, Error, and Closed.
// If a Reset supersedes this attempt while the dial is in flight, the
// late-arriving session is closed and discarded.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateError, StateClosed:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: connect while %s", state)
	}
	c.state = StateInitializing
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.status("connecting")

	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()

	start := time.Now()
	sess, err := c.transport.Connect(ctx, live.SessionConfig{
		Voice:        c.cfg.Voice,
		Instructions: c.cfg.Instructions,
	})
	c.metrics.RecordConnect(ctx, time.Since(start), err == nil)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		// Superseded by a Reset or Close while dialling.
		if err == nil {
			_ = sess.Close()
		}
		return nil
	}
	if err != nil {
		c.state = StateError
		c.mu.Unlock()
		c.fail(fmt.Sprintf("connect: %v", err))
		return err
	}
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	c.status("connected")

	go c.eventLoop(gen, sess)
	return nil
}

// Start begins streaming microphone audio. Valid only from Connected. A
// capture failure leaves the session Connected and returns the error, so
// the caller can retry after fixing the device.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: start while %s", state)
	}
	gen := c.gen
	c.mu.Unlock()

	if err := c.capture.Start(func(f audio.Frame) { c.handleFrame(gen, f) }); err != nil {
		c.fail(fmt.Sprintf("microphone: %v", err))
		return err
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		c.capture.Stop()
		return ErrNotConnected
	}
	c.state = StateRecording
	c.recording = true
	c.mu.Unlock()

	c.status("recording")
	return nil
}

// Stop ends microphone streaming. Idempotent and synchronous: after it
// returns no further frames are sent. Model playback is unaffected.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	if c.state == StateRecording {
		c.state = StateConnected
	}
	c.mu.Unlock()

	c.capture.Stop()
	c.status("connected")
}

// SendText injects a text turn into the conversation. The text is passed
// through verbatim; display tags from the surrounding application are not
// interpreted here.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	sess := c.sess
	state := c.state
	c.mu.Unlock()

	if sess == nil || (state != StateConnected && state != StateRecording) {
		return ErrNotConnected
	}
	return sess.SendText(text)
}

// Reset tears the current session down from any state and connects a new
// one. Outstanding connect attempts and event loops from before the reset
// become stale and are ignored when they eventually complete.
func (c *Controller) Reset(ctx context.Context) error {
	c.teardown(StateIdle)
	c.status("resetting")
	return c.Connect(ctx)
}

// Close tears everything down and enters the terminal Closed state.
// Idempotent; Connect or Reset revives the controller.
func (c *Controller) Close() {
	c.teardown(StateClosed)
	c.status("closed")
}

// teardown invalidates the current generation, stops capture and playback,
// and closes the session, leaving the controller in the given state.
func (c *Controller) teardown(next State) {
	c.mu.Lock()
	c.gen++
	sess := c.sess
	c.sess = nil
	c.recording = false
	c.state = next
	c.mu.Unlock()

	// Capture and scheduler are stopped outside the lock: capture.Stop
	// joins the reader goroutine, which may be inside handleFrame taking it.
	c.capture.Stop()
	c.sched.Reset()
	if sess != nil {
		_ = sess.Close()
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// ── frame path ─────────────────────────────────────────────────────────────────

// handleFrame runs on the capture reader goroutine for every microphone
// frame. Frames are best effort: anything that cannot be sent right now is
// dropped, never buffered.
func (c *Controller) handleFrame(gen uint64, f audio.Frame) {
	c.mu.Lock()
	sess := c.sess
	active := c.recording && gen == c.gen && c.state == StateRecording
	c.mu.Unlock()

	if !active || sess == nil {
		c.metrics.RecordFrameDrop(context.Background(), "not_recording")
		return
	}

	if err := sess.SendAudio(audio.Encode(f)); err != nil {
		c.metrics.RecordFrameDrop(context.Background(), "send_failed")
		slog.Warn("session: send audio failed, stopping recording", "err", err)
		// Stop asynchronously: capture.Stop joins this very goroutine.
		go func() {
			c.Stop()
			c.fail(fmt.Sprintf("send audio: %v", err))
		}()
		return
	}
	c.metrics.FramesSent.Add(context.Background(), 1)
}

// ── event path ─────────────────────────────────────────────────────────────────

// eventLoop consumes the session's ordered event stream until it closes.
// One loop runs per connected session; a loop whose generation has been
// superseded drains silently.
func (c *Controller) eventLoop(gen uint64, sess live.Session) {
	for ev := range sess.Events() {
		if c.stale(gen) {
			continue
		}

		switch ev := ev.(type) {
		case live.OpenEvent:
			c.status("ready")

		case live.AudioEvent:
			chunk, err := audio.Decode(ev.Blob, c.cfg.OutputRate)
			if err != nil {
				// Malformed payloads cost one chunk, never the session.
				c.metrics.DecodeErrors.Add(context.Background(), 1)
				slog.Warn("session: dropping malformed audio chunk", "err", err)
				continue
			}
			c.sched.Schedule(chunk)
			c.metrics.RecordChunkScheduled(context.Background(), chunk.Duration)

		case live.InterruptedEvent:
			// Unconditional: even if nothing is playing, the cursor resets.
			c.sched.Interrupt()
			c.metrics.Interruptions.Add(context.Background(), 1)

		case live.CaptionEvent:
			c.caption(ev.Speaker, ev.Text)

		case live.ErrorEvent:
			// A server-reported error is fatal even when the socket stays
			// open: the session must not keep streaming mic audio into it.
			c.handleFatal(gen, ev.Err.Error())

		case live.ClosedEvent:
			c.handleFatal(gen, "session closed: "+ev.Reason)
		}
	}
}

// handleFatal applies a fatal transport error or terminal close: recording
// stops, queued playback is discarded, the session is closed, and the
// controller lands in StateError so the user can reset. Events still queued
// from the dead session drain as stale.
func (c *Controller) handleFatal(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++ // no further work from this session
	sess := c.sess
	c.sess = nil
	c.recording = false
	c.state = StateError
	c.mu.Unlock()

	c.capture.Stop()
	c.sched.Reset()
	if sess != nil {
		_ = sess.Close()
	}
	c.metrics.ActiveSessions.Add(context.Background(), -1)
	c.fail(reason)
}

// ── callbacks ──────────────────────────────────────────────────────────────────

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Controller) status(s string) {
	slog.Debug("session: status", "status", s)
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *Controller) fail(msg string) {
	slog.Warn("session: error", "msg", msg)
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *Controller) caption(speaker, text string) {
	c.mu.Lock()
	fn := c.onCaption
	c.mu.Unlock()
	if fn != nil {
		fn(speaker, text)
	}
}
