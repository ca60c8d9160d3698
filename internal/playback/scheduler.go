// Package playback schedules decoded model audio onto a gapless output
// timeline and tears everything down on barge-in.
//
// The scheduler keeps a single timeline cursor: each chunk starts at
// max(cursor, now) and advances the cursor by its duration, so back-to-back
// chunks play seamlessly while a late arrival simply starts immediately.
// An interruption cancels every scheduled chunk (playing or not) and resets
// the cursor to zero.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
)

// Handle identifies one scheduled chunk.
type Handle struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// Scheduled reports whether the handle refers to a chunk that was accepted.
func (h Handle) Scheduled() bool { return h.ID != 0 }

type cmdKind int

const (
	cmdSchedule cmdKind = iota
	cmdInterrupt
	cmdFinished
	cmdStatus
)

type command struct {
	kind  cmdKind
	chunk audio.Chunk
	id    uint64

	reply  chan Handle
	ack    chan struct{}
	status chan status
}

type status struct {
	active    int
	nextStart time.Duration
}

// Scheduler owns the playback timeline. The cursor and the handle registry
// are mutated only on the run loop goroutine; public methods exchange
// commands with it over a single channel, so commands apply in arrival
// order and an Interrupt always beats any chunk submitted after it.
type Scheduler struct {
	clock Clock
	sink  audio.PlaybackStream

	cmds chan command
	done chan struct{}

	// sinkMu serializes sink access: a chunk's Play often outlasts its
	// nominal end (the device drains slower than timers fire), so the next
	// handle's goroutine would otherwise enter the sink concurrently.
	sinkMu sync.Mutex

	runWG     sync.WaitGroup
	playWG    sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Scheduler playing through sink on the given clock and
// starts its run loop.
func New(clock Clock, sink audio.PlaybackStream) *Scheduler {
	s := &Scheduler{
		clock: clock,
		sink:  sink,
		cmds:  make(chan command, 64),
		done:  make(chan struct{}),
	}
	s.runWG.Add(1)
	go s.run()
	return s
}

// Schedule plans chunk at max(cursor, now), advances the cursor by the
// chunk's duration, and returns the handle. Empty chunks are ignored and
// return an unscheduled handle, as does scheduling after Close.
func (s *Scheduler) Schedule(chunk audio.Chunk) Handle {
	if len(chunk.PCM) == 0 || chunk.Duration <= 0 {
		return Handle{}
	}
	reply := make(chan Handle, 1)
	select {
	case s.cmds <- command{kind: cmdSchedule, chunk: chunk, reply: reply}:
	case <-s.done:
		return Handle{}
	}
	select {
	case h := <-reply:
		return h
	case <-s.done:
		return Handle{}
	}
}

// Interrupt cancels every scheduled chunk, playing or not, clears the
// registry, and resets the cursor to zero. It returns once the run loop has
// applied the interruption, so chunks scheduled afterwards start fresh.
func (s *Scheduler) Interrupt() {
	ack := make(chan struct{})
	select {
	case s.cmds <- command{kind: cmdInterrupt, ack: ack}:
	case <-s.done:
		return
	}
	select {
	case <-ack:
	case <-s.done:
	}
}

// Reset discards all scheduled audio and restarts the timeline. Used on
// session teardown; identical to Interrupt.
func (s *Scheduler) Reset() { s.Interrupt() }

// Active returns the number of scheduled chunks not yet finished.
func (s *Scheduler) Active() int { return s.queryStatus().active }

// NextStart returns the current timeline cursor.
func (s *Scheduler) NextStart() time.Duration { return s.queryStatus().nextStart }

func (s *Scheduler) queryStatus() status {
	ch := make(chan status, 1)
	select {
	case s.cmds <- command{kind: cmdStatus, status: ch}:
	case <-s.done:
		return status{}
	}
	select {
	case st := <-ch:
		return st
	case <-s.done:
		return status{}
	}
}

// Close cancels all playback and stops the run loop. Idempotent.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.Interrupt()
		close(s.done)
		s.runWG.Wait()
		s.playWG.Wait()
	})
}

func (s *Scheduler) run() {
	defer s.runWG.Done()

	var (
		nextStart time.Duration
		nextID    uint64
		active    = make(map[uint64]context.CancelFunc)
	)

	for {
		select {
		case <-s.done:
			for _, cancel := range active {
				cancel()
			}
			return
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdSchedule:
				now := s.clock.Now()
				start := max(nextStart, now)
				nextID++
				h := Handle{ID: nextID, Start: start, Duration: cmd.chunk.Duration}
				ctx, cancel := context.WithCancel(context.Background())
				active[h.ID] = cancel
				nextStart = start + cmd.chunk.Duration

				s.playWG.Add(1)
				go s.play(ctx, h, cmd.chunk)
				cmd.reply <- h

			case cmdInterrupt:
				for id, cancel := range active {
					cancel()
					delete(active, id)
				}
				nextStart = 0
				close(cmd.ack)

			case cmdFinished:
				if cancel, ok := active[cmd.id]; ok {
					cancel()
					delete(active, cmd.id)
				}

			case cmdStatus:
				cmd.status <- status{active: len(active), nextStart: nextStart}
			}
		}
	}
}

// play waits for the handle's start time, then drives the sink. Runs on its
// own goroutine per handle; cancellation can arrive at any point.
func (s *Scheduler) play(ctx context.Context, h Handle, chunk audio.Chunk) {
	defer s.playWG.Done()
	defer s.finished(h.ID)

	if delay := h.Start - s.clock.Now(); delay > 0 {
		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	// The previous chunk may have held the sink past this one's start; an
	// interrupt issued in the meantime must still win.
	if ctx.Err() != nil {
		return
	}

	if err := s.sink.Play(ctx, chunk.PCM); err != nil && ctx.Err() == nil {
		slog.Warn("playback: sink error", "handle", h.ID, "err", err)
	}
}

// finished reports a handle back to the run loop for deregistration.
func (s *Scheduler) finished(id uint64) {
	select {
	case s.cmds <- command{kind: cmdFinished, id: id}:
	case <-s.done:
	}
}
