// Package pipeline orchestrates the transcript-to-draft flow for one capture
// session: transcription, parsing, and in-memory draft retention, with a
// complete diagnostic trace per run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/jhaensel/migralog/internal/observe"
	"github.com/jhaensel/migralog/internal/parse"
	"github.com/jhaensel/migralog/internal/trace"
	"github.com/jhaensel/migralog/internal/transcribe"
)

// ErrRunInFlight is returned when a second run is started for a correlation
// ID that already has an active pipeline run.
var ErrRunInFlight = errors.New("pipeline run already in flight for this session")

// Transcriber is the transcription stage consumed by the orchestrator.
// Satisfied by [transcribe.Adapter].
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, fallbackTranscript string) (transcribe.Result, error)
}

// Input carries one finalized capture session into the pipeline.
type Input struct {
	// CorrelationID is the capture session's correlation ID. When empty a
	// fresh one is minted so the trace is never orphaned.
	CorrelationID string

	// Audio is the captured audio, if the embedding application recorded
	// any. May be nil when only an on-device transcript exists.
	Audio io.Reader

	// Transcript is the on-device recognizer transcript used as fallback
	// when no server-side provider is configured.
	Transcript string

	// Restarts is the number of engine restarts the capture controller
	// performed, carried into the capture trace step.
	Restarts int
}

// Draft is a completed entry draft together with its full diagnostic trace.
type Draft struct {
	ID            string             `json:"id"`
	CorrelationID string             `json:"correlationId"`
	CreatedAt     time.Time          `json:"createdAt"`
	Transcription transcribe.Result  `json:"transcription"`
	Entry         *parse.Result      `json:"entry"`
	Steps         []trace.StepRecord `json:"steps"`
	Summary       trace.Summary      `json:"summary"`
}

// Config wires the orchestrator's collaborators.
type Config struct {
	// Transcriber is the transcription stage. Required.
	Transcriber Transcriber

	// Parser is the extraction engine. Required.
	Parser *parse.Parser

	// Metrics receives stage latencies and outcome counters. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Notifier broadcasts completions. Defaults to a fresh notifier.
	Notifier *Notifier

	// Now is the time source. Defaults to [time.Now].
	Now func() time.Time

	// MaxDrafts bounds the in-memory draft buffer. Defaults to 50.
	MaxDrafts int
}

// Orchestrator runs the transcribe → parse → persist flow and enforces at
// most one in-flight run per correlation ID.
type Orchestrator struct {
	transcriber Transcriber
	metrics     *observe.Metrics
	notifier    *Notifier
	now         func() time.Time
	maxDrafts   int

	mu       sync.Mutex
	parser   *parse.Parser
	inflight map[string]struct{}
	drafts   []*Draft
}

// NewOrchestrator validates cfg and constructs an [Orchestrator].
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("pipeline: transcriber is required")
	}
	if cfg.Parser == nil {
		return nil, errors.New("pipeline: parser is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxDrafts <= 0 {
		cfg.MaxDrafts = 50
	}
	return &Orchestrator{
		transcriber: cfg.Transcriber,
		parser:      cfg.Parser,
		metrics:     cfg.Metrics,
		notifier:    cfg.Notifier,
		now:         cfg.Now,
		maxDrafts:   cfg.MaxDrafts,
		inflight:    map[string]struct{}{},
	}, nil
}

// Notifier returns the notifier completions are published to.
func (o *Orchestrator) Notifier() *Notifier {
	return o.notifier
}

// SetParser swaps the extraction engine. Used for config hot reload; runs
// already in flight keep the parser they started with.
func (o *Orchestrator) SetParser(p *parse.Parser) {
	if p == nil {
		return
	}
	o.mu.Lock()
	o.parser = p
	o.mu.Unlock()
}

func (o *Orchestrator) currentParser() *parse.Parser {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parser
}

// Run executes the pipeline for one finalized capture session.
//
// Parsing never fails; the only fatal stage is a configured-but-unavailable
// transcription provider. Every fatal path records a failed trace step and
// publishes a completion carrying the error before returning it.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Draft, error) {
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}

	if err := o.acquire(in.CorrelationID); err != nil {
		return nil, err
	}
	defer o.release(in.CorrelationID)

	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	log := observe.Logger(ctx).With(slog.String("correlation_id", in.CorrelationID))
	rec := trace.New(in.CorrelationID, trace.WithClock(o.now))
	runStart := o.now()

	rec.Record(trace.StepCapture, trace.StatusCompleted, map[string]any{
		"transcriptChars": len(in.Transcript),
		"restarts":        in.Restarts,
	}, nil)

	// Transcription.
	rec.Record(trace.StepTranscribe, trace.StatusStarted, nil, nil)
	tStart := o.now()
	tr, err := o.transcriber.Transcribe(ctx, in.Audio, in.Transcript)
	o.metrics.TranscribeDuration.Record(ctx, o.now().Sub(tStart).Seconds())
	if err != nil {
		rec.Record(trace.StepTranscribe, trace.StatusFailed, nil, err)
		o.metrics.RecordPipelineFailure(ctx, string(trace.StepTranscribe))
		log.Error("transcription failed", slog.String("error", err.Error()))
		o.notifier.publish(Completion{
			Timestamp:     o.now().UTC(),
			CorrelationID: in.CorrelationID,
			Steps:         rec.Steps(),
			Error:         err.Error(),
		})
		return nil, fmt.Errorf("transcribe session %s: %w", in.CorrelationID, err)
	}
	rec.Record(trace.StepTranscribe, trace.StatusCompleted, map[string]any{
		"transcriptChars": len(tr.Transcript),
		"confidence":      tr.Confidence,
	}, nil)

	// Parsing. Never fails: garbage degrades to a review-flagged voice note.
	rec.Record(trace.StepParse, trace.StatusStarted, nil, nil)
	pStart := o.now()
	entry := o.currentParser().Parse(tr.Transcript, tr.Confidence, o.now())
	o.metrics.ParseDuration.Record(ctx, o.now().Sub(pStart).Seconds())
	rec.Record(trace.StepParse, trace.StatusCompleted, map[string]any{
		"entryType":   string(entry.EntryType),
		"confidence":  entry.Confidence,
		"needsReview": entry.NeedsReview,
	}, nil)

	// Retention. The draft must be complete before it is retained: Drafts()
	// hands the same pointer to concurrent readers.
	draft := &Draft{
		ID:            ulid.Make().String(),
		CorrelationID: in.CorrelationID,
		CreatedAt:     o.now().UTC(),
		Transcription: tr,
		Entry:         entry,
	}
	rec.Record(trace.StepPersist, trace.StatusCompleted, map[string]any{
		"draftId": draft.ID,
	}, nil)
	draft.Steps = rec.Steps()
	draft.Summary = rec.Summary()
	o.retain(draft)

	o.metrics.PipelineDuration.Record(ctx, o.now().Sub(runStart).Seconds(),
		metric.WithAttributes(observe.Attr("entry_type", string(entry.EntryType))))
	o.metrics.RecordDraft(ctx, string(entry.EntryType), entry.NeedsReview)

	log.Info("draft completed",
		slog.String("draft_id", draft.ID),
		slog.String("entry_type", string(entry.EntryType)),
		slog.Float64("confidence", entry.Confidence),
		slog.Bool("needs_review", entry.NeedsReview),
	)

	o.notifier.publish(Completion{
		Timestamp:     draft.CreatedAt,
		CorrelationID: in.CorrelationID,
		DraftID:       draft.ID,
		Result:        entry,
		Steps:         draft.Steps,
	})
	return draft, nil
}

// FailSession records the terminal failure of a capture session that never
// produced a transcript, so even sessions that die before transcription leave
// a trace ending in a failed step. It is the intended sink for the capture
// controller's OnFailure callback.
func (o *Orchestrator) FailSession(ctx context.Context, correlationID string, cause error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if cause == nil {
		cause = errors.New("capture session failed")
	}

	rec := trace.New(correlationID, trace.WithClock(o.now))
	rec.Record(trace.StepCapture, trace.StatusFailed, nil, cause)
	o.metrics.RecordPipelineFailure(ctx, string(trace.StepCapture))

	observe.Logger(ctx).Error("capture session failed",
		slog.String("correlation_id", correlationID),
		slog.String("error", cause.Error()),
	)

	o.notifier.publish(Completion{
		Timestamp:     o.now().UTC(),
		CorrelationID: correlationID,
		Steps:         rec.Steps(),
		Error:         cause.Error(),
	})
}

// Drafts returns a snapshot of retained drafts, oldest first.
func (o *Orchestrator) Drafts() []*Draft {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Draft, len(o.drafts))
	copy(out, o.drafts)
	return out
}

func (o *Orchestrator) acquire(correlationID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[correlationID]; busy {
		return ErrRunInFlight
	}
	o.inflight[correlationID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(correlationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, correlationID)
}

func (o *Orchestrator) retain(d *Draft) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drafts = append(o.drafts, d)
	if len(o.drafts) > o.maxDrafts {
		trim := len(o.drafts) - o.maxDrafts
		o.drafts = append([]*Draft(nil), o.drafts[trim:]...)
	}
}

// Snapshot renders a draft as indented JSON for debug endpoints and the CLI.
// It has no side effects on the draft.
func Snapshot(d *Draft) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
