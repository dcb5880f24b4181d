package trace_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jhaensel/migralog/internal/trace"
)

// fakeClock returns a clock function that advances by step on every call
// after the first.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	calls := 0
	return func() time.Time {
		t := start.Add(time.Duration(calls) * step)
		calls++
		return t
	}
}

func TestRecorder_AppendOnly(t *testing.T) {
	t.Parallel()

	r := trace.New("corr-1")

	id1 := r.Record(trace.StepCapture, trace.StatusStarted, nil, nil)
	id2 := r.Record(trace.StepCapture, trace.StatusCompleted, map[string]any{"restarts": 0}, nil)

	if id1 == "" || id2 == "" {
		t.Fatalf("Record returned empty step id: %q, %q", id1, id2)
	}
	if id1 == id2 {
		t.Fatalf("Record returned duplicate step ids: %q", id1)
	}

	steps := r.Steps()
	if len(steps) != 2 {
		t.Fatalf("Steps() len = %d, want 2", len(steps))
	}
	if steps[0].ID != id1 || steps[1].ID != id2 {
		t.Errorf("Steps() order does not match append order")
	}
	for _, s := range steps {
		if s.CorrelationID != "corr-1" {
			t.Errorf("step %s: correlation id = %q, want corr-1", s.ID, s.CorrelationID)
		}
	}

	// Mutating the snapshot must not affect the recorder.
	steps[0].Error = "tampered"
	if r.Steps()[0].Error != "" {
		t.Error("mutating the Steps() snapshot leaked into the recorder")
	}
}

func TestRecorder_DurationRelativeToConstruction(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	r := trace.New("corr-2", trace.WithClock(fakeClock(start, 250*time.Millisecond)))

	r.Record(trace.StepTranscribe, trace.StatusStarted, nil, nil)
	r.Record(trace.StepTranscribe, trace.StatusCompleted, nil, nil)
	r.Record(trace.StepParse, trace.StatusCompleted, nil, nil)

	steps := r.Steps()
	if steps[0].DurationMs != 0 {
		t.Errorf("started step duration = %d, want 0", steps[0].DurationMs)
	}
	// Clock calls: construction, step1, step2, step3 → 250ms apart each.
	if steps[1].DurationMs != 500 {
		t.Errorf("second step duration = %dms, want 500ms since construction", steps[1].DurationMs)
	}
	if steps[2].DurationMs != 750 {
		t.Errorf("third step duration = %dms, want 750ms since construction", steps[2].DurationMs)
	}
}

func TestRecorder_SummaryCountsAndLastError(t *testing.T) {
	t.Parallel()

	r := trace.New("corr-3")

	r.Record(trace.StepCapture, trace.StatusStarted, nil, nil)
	r.Record(trace.StepCapture, trace.StatusCompleted, nil, nil)
	r.Record(trace.StepTranscribe, trace.StatusFailed, nil, errors.New("provider unavailable"))
	r.Record(trace.StepError, trace.StatusFailed, nil, errors.New("session failed"))

	s := r.Summary()
	if s.TotalSteps != 4 {
		t.Errorf("TotalSteps = %d, want 4", s.TotalSteps)
	}
	if s.Completed != 1 {
		t.Errorf("Completed = %d, want 1", s.Completed)
	}
	if s.Failed != 2 {
		t.Errorf("Failed = %d, want 2", s.Failed)
	}
	if s.LastError != "session failed" {
		t.Errorf("LastError = %q, want the most recent failure", s.LastError)
	}
}

func TestRecorder_FailedStepCarriesError(t *testing.T) {
	t.Parallel()

	r := trace.New("corr-4")
	r.Record(trace.StepParse, trace.StatusFailed, nil, errors.New("boom"))
	r.Record(trace.StepParse, trace.StatusCompleted, nil, errors.New("ignored"))

	steps := r.Steps()
	if steps[0].Error != "boom" {
		t.Errorf("failed step error = %q, want %q", steps[0].Error, "boom")
	}
	if steps[1].Error != "" {
		t.Errorf("completed step must not carry an error, got %q", steps[1].Error)
	}
}

func TestStep_IsValid(t *testing.T) {
	t.Parallel()

	for _, s := range []trace.Step{trace.StepCapture, trace.StepTranscribe, trace.StepParse, trace.StepPersist, trace.StepError} {
		if !s.IsValid() {
			t.Errorf("Step(%q).IsValid() = false, want true", s)
		}
	}
	if trace.Step("upload").IsValid() {
		t.Error(`Step("upload").IsValid() = true, want false`)
	}
}
