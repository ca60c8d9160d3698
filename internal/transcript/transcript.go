// Package transcript accumulates the caption stream of a tutoring session
// into a readable conversation log.
package transcript

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one contiguous utterance by a single speaker.
type Entry struct {
	Speaker string
	Text    string
	Start   time.Time
}

// Recorder collects caption fragments into entries. Captions arrive as
// partial words or phrases; consecutive fragments from the same speaker are
// merged into one entry. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time

	// MaxEntries caps the log; when exceeded the oldest entries are dropped.
	// Zero means unlimited.
	MaxEntries int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Append adds a caption fragment. Empty fragments are ignored.
func (r *Recorder) Append(speaker, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.entries); n > 0 && r.entries[n-1].Speaker == speaker {
		r.entries[n-1].Text += text
		return
	}
	r.entries = append(r.entries, Entry{Speaker: speaker, Text: text, Start: r.now()})
	if r.MaxEntries > 0 && len(r.entries) > r.MaxEntries {
		r.entries = r.entries[len(r.entries)-r.MaxEntries:]
	}
}

// Entries returns a snapshot of the log.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear discards all entries. Called when a session is reset so the log
// matches the conversation the model actually remembers.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// WriteTo renders the log as "speaker: text" lines.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, e := range r.Entries() {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, strings.TrimSpace(e.Text))
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
