// Package trace implements the per-session diagnostic trace recorder.
//
// A [Recorder] is created once per capture session, scoped to the session's
// correlation ID, and accumulates an append-only sequence of [StepRecord]
// values describing each pipeline stage (capture → transcribe → parse →
// persist). The recorder never mutates or removes prior entries, so the
// resulting trace can be used to reconstruct what happened across an
// asynchronous, restart-prone session after the fact.
//
// All methods are safe for concurrent use.
package trace

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Step identifies the pipeline stage a trace entry belongs to.
type Step string

const (
	StepCapture    Step = "capture"
	StepTranscribe Step = "transcribe"
	StepParse      Step = "parse"
	StepPersist    Step = "persist"
	StepError      Step = "error"
)

// IsValid reports whether s is a recognised pipeline step.
func (s Step) IsValid() bool {
	switch s {
	case StepCapture, StepTranscribe, StepParse, StepPersist, StepError:
		return true
	}
	return false
}

// Status describes the outcome state of a recorded step.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepRecord is one append-only trace entry.
type StepRecord struct {
	// ID is a ULID assigned at record time. IDs are lexicographically
	// sortable by creation time.
	ID string `json:"id"`

	// Step is the pipeline stage this entry describes.
	Step Step `json:"step"`

	// CorrelationID groups all entries belonging to one capture session.
	CorrelationID string `json:"correlationId"`

	// Timestamp is the wall-clock time the entry was recorded, UTC.
	Timestamp time.Time `json:"timestamp"`

	// Status is the outcome state of the step.
	Status Status `json:"status"`

	// DurationMs is the elapsed time since recorder construction, in
	// milliseconds. Only populated for completed and failed entries so it
	// always reflects "elapsed since session start".
	DurationMs int64 `json:"durationMs,omitempty"`

	// Payload carries step-specific diagnostic values (transcript length,
	// provider name, parse confidence, ...). May be nil.
	Payload map[string]any `json:"payload,omitempty"`

	// Error holds the error message for failed entries.
	Error string `json:"error,omitempty"`
}

// Summary aggregates a recorder's entries for quick inspection.
type Summary struct {
	TotalSteps      int    `json:"totalSteps"`
	Completed       int    `json:"completed"`
	Failed          int    `json:"failed"`
	TotalDurationMs int64  `json:"totalDurationMs"`
	LastError       string `json:"lastError,omitempty"`
}

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithClock overrides the recorder's time source. Intended for tests that
// need deterministic timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder is an append-only trace log scoped to a single correlation ID.
type Recorder struct {
	correlationID string
	now           func() time.Time
	start         time.Time

	mu    sync.Mutex
	steps []StepRecord
}

// New creates a [Recorder] for the given correlation ID. The construction
// time is the zero point for all recorded durations.
func New(correlationID string, opts ...Option) *Recorder {
	r := &Recorder{
		correlationID: correlationID,
		now:           time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.start = r.now()
	return r
}

// CorrelationID returns the correlation ID this recorder is scoped to.
func (r *Recorder) CorrelationID() string {
	return r.correlationID
}

// Record appends one trace entry and returns its step ID. The err argument
// may be nil; it is only rendered into the entry for failed statuses and is
// otherwise ignored.
func (r *Recorder) Record(step Step, status Status, payload map[string]any, err error) string {
	now := r.now().UTC()

	rec := StepRecord{
		ID:            ulid.Make().String(),
		Step:          step,
		CorrelationID: r.correlationID,
		Timestamp:     now,
		Status:        status,
		Payload:       payload,
	}
	if status != StatusStarted {
		rec.DurationMs = now.Sub(r.start.UTC()).Milliseconds()
	}
	if status == StatusFailed && err != nil {
		rec.Error = err.Error()
	}

	r.mu.Lock()
	r.steps = append(r.steps, rec)
	r.mu.Unlock()

	return rec.ID
}

// Steps returns a snapshot copy of all recorded entries in append order.
func (r *Recorder) Steps() []StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepRecord, len(r.steps))
	copy(out, r.steps)
	return out
}

// Summary aggregates the recorded entries. LastError is the error message of
// the most recent failed entry, if any.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{TotalSteps: len(r.steps)}
	for _, rec := range r.steps {
		switch rec.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
			if rec.Error != "" {
				s.LastError = rec.Error
			}
		}
		if rec.DurationMs > s.TotalDurationMs {
			s.TotalDurationMs = rec.DurationMs
		}
	}
	return s
}
