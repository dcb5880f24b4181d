package pipeline

import (
	"sync"
	"time"

	"github.com/jhaensel/migralog/internal/parse"
	"github.com/jhaensel/migralog/internal/trace"
)

// Completion is the event published after a pipeline run ends, successfully
// or not. Persistence and UI layers consume it to store or display the draft.
type Completion struct {
	Seq           int64              `json:"seq"`
	Timestamp     time.Time          `json:"timestamp"`
	CorrelationID string             `json:"correlationId"`
	DraftID       string             `json:"draftId,omitempty"`
	Result        *parse.Result      `json:"result,omitempty"`
	Steps         []trace.StepRecord `json:"steps,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Notifier fans completions out to subscribed listeners and keeps a bounded
// buffer of recent events for incremental polling.
type Notifier struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Completion
	listeners []func(Completion)
}

// NewNotifier creates a notifier with a bounded in-memory event buffer.
func NewNotifier(maxEvents int) *Notifier {
	if maxEvents <= 0 {
		maxEvents = 100
	}
	return &Notifier{
		maxEvents: maxEvents,
		events:    make([]Completion, 0, maxEvents),
	}
}

// Subscribe registers a listener invoked synchronously for every published
// completion. Listeners must not block; slow consumers should hand the event
// off to their own goroutine.
func (n *Notifier) Subscribe(fn func(Completion)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// publish assigns a sequence number, buffers the event, and notifies
// listeners.
func (n *Notifier) publish(c Completion) Completion {
	n.mu.Lock()
	n.nextSeq++
	c.Seq = n.nextSeq
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}

	n.events = append(n.events, c)
	if len(n.events) > n.maxEvents {
		trim := len(n.events) - n.maxEvents
		n.events = append([]Completion(nil), n.events[trim:]...)
	}
	listeners := append(([]func(Completion))(nil), n.listeners...)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
	return c
}

// Since returns buffered completions with sequence strictly greater than seq.
func (n *Notifier) Since(seq int64) []Completion {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if len(n.events) == 0 {
		return nil
	}
	out := make([]Completion, 0, len(n.events))
	for _, c := range n.events {
		if c.Seq > seq {
			out = append(out, c)
		}
	}
	return out
}
