package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhaensel/migralog/internal/observe"
)

// ErrControllerClosed is returned by [Controller.Start] after
// [Controller.Close].
var ErrControllerClosed = errors.New("capture: controller closed")

// Engine starts and stops the underlying speech recognizer. The recognizer
// is an opaque external capability; its events are fed back into the
// controller via the Engine* and Segment methods.
//
// Implementations must tolerate Stop being called when no session is active.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
}

// ControllerConfig configures a [Controller].
type ControllerConfig struct {
	// Policy supplies the restart budget and silence constants. Zero value
	// fields fall back to [DefaultPolicy].
	Policy Policy

	// Engine is the recognizer to drive. Required.
	Engine Engine

	// Scheduler creates restart and silence-check timers. Defaults to the
	// production scheduler.
	Scheduler Scheduler

	// Now is the time source. Defaults to [time.Now].
	Now func() time.Time

	// Metrics receives session gauge and restart counters. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnFinalize receives the accumulated transcript when a session is
	// stopped cleanly. May be nil.
	OnFinalize func(correlationID, transcript string)

	// OnFailure receives the terminal error when a session fails, typically
	// forwarded to the pipeline's FailSession so the failure leaves a trace.
	// May be nil.
	OnFailure func(correlationID string, err error)
}

// Controller owns one listening session at a time. It wraps the pure
// [Reduce] state machine with timer scheduling and engine calls, and
// guarantees that every armed timer is cancelled on stop, terminal failure,
// and teardown so that no stale callback fires into a superseded session.
//
// All methods are safe for concurrent use.
type Controller struct {
	policy     Policy
	engine     Engine
	sched      Scheduler
	now        func() time.Time
	metrics    *observe.Metrics
	onFinalize func(string, string)
	onFailure  func(string, error)

	mu           sync.Mutex
	sess         Session
	ctx          context.Context
	restartTimer Timer
	silenceTimer Timer
	closed       bool
}

// NewController creates a [Controller]. It panics if cfg.Engine is nil.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Engine == nil {
		panic("capture: ControllerConfig.Engine is required")
	}
	pol := cfg.Policy
	if pol.MaxRestarts == 0 {
		pol = DefaultPolicy()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = NewScheduler()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Controller{
		policy:     pol,
		engine:     cfg.Engine,
		sched:      sched,
		now:        now,
		metrics:    metrics,
		onFinalize: cfg.OnFinalize,
		onFailure:  cfg.OnFailure,
		sess:       Session{State: StateIdle},
	}
}

// Start begins a new listening session and returns its correlation ID.
// A fresh correlation ID and session value are minted on every call; nothing
// carries over from previous sessions.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrControllerClosed
	}
	if c.sess.State != StateIdle && !c.sess.State.Terminal() {
		c.mu.Unlock()
		return "", errors.New("capture: session already active")
	}
	c.ctx = ctx
	c.mu.Unlock()

	correlationID := uuid.NewString()
	c.dispatch(EvStart{CorrelationID: correlationID})

	c.mu.Lock()
	err := c.sess.Err
	c.mu.Unlock()
	if err != nil {
		return correlationID, err
	}
	return correlationID, nil
}

// Stop requests an orderly shutdown of the active session. The accumulated
// transcript is delivered via OnFinalize once the engine confirms the stop.
// Safe to call when no session is active.
func (c *Controller) Stop() {
	c.dispatch(EvStop{})
}

// Close tears the controller down, cancelling all timers. A closed
// controller rejects further Start calls.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancelTimersLocked()
	c.mu.Unlock()
}

// Session returns a copy of the current session value.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Segment feeds a final transcript segment from the recognizer.
func (c *Controller) Segment(text string) {
	c.dispatch(EvSegment{Text: text})
}

// SoundDetected reports recognizer audio activity.
func (c *Controller) SoundDetected() {
	c.dispatch(EvSoundDetected{})
}

// EngineEnded reports that the recognizer terminated the session on its own.
func (c *Controller) EngineEnded() {
	c.dispatch(EvEngineEnded{})
}

// EngineError reports a recognizer error. Transient errors are treated as a
// normal end-of-session while restart budget remains.
func (c *Controller) EngineError(err error, transient bool) {
	c.dispatch(EvEngineError{Err: err, Transient: transient})
}

// dispatch reduces ev against the current session and executes the resulting
// effects. The reducer runs under the lock; effects run outside it so that
// engine calls and callbacks cannot deadlock against re-entrant events.
func (c *Controller) dispatch(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := c.now()
	prev := c.sess
	next, effects := Reduce(c.sess, ev, now, c.policy)
	c.sess = next
	ctx := c.ctx
	correlationID := next.CorrelationID
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	c.recordTransition(ctx, prev, next, now)

	for _, eff := range effects {
		c.run(ctx, correlationID, eff)
	}

	c.manageSilenceTimer(correlationID)
}

// recordTransition updates the live-session gauge and capture-duration
// histogram on entry to and exit from the active states.
func (c *Controller) recordTransition(ctx context.Context, prev, next Session, now time.Time) {
	wasActive := sessionActive(prev.State)
	isActive := sessionActive(next.State)
	switch {
	case !wasActive && isActive:
		c.metrics.ActiveCaptures.Add(ctx, 1)
	case wasActive && !isActive:
		c.metrics.ActiveCaptures.Add(ctx, -1)
		if !next.SessionStart.IsZero() {
			c.metrics.CaptureDuration.Record(ctx, now.Sub(next.SessionStart).Seconds())
		}
	}
}

func sessionActive(s State) bool {
	return s == StateListening || s == StatePausedOnSilence || s == StateStopping
}

// run executes a single effect.
func (c *Controller) run(ctx context.Context, correlationID string, eff Effect) {
	switch e := eff.(type) {
	case EffectStartEngine:
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.engine.Start(ctx); err != nil {
			slog.Warn("recognizer start failed",
				"correlation_id", correlationID, "error", err)
			c.dispatch(EvEngineError{Err: err})
		}

	case EffectStopEngine:
		if err := c.engine.Stop(); err != nil {
			slog.Warn("recognizer stop failed",
				"correlation_id", correlationID, "error", err)
		}
		c.dispatch(EvEngineStopped{})

	case EffectScheduleRestart:
		c.metrics.RecordEngineRestart(ctx, "auto")
		c.scheduleRestart(correlationID, e.Delay)

	case EffectCancelRestart:
		c.mu.Lock()
		if c.restartTimer != nil {
			c.restartTimer.Stop()
			c.restartTimer = nil
		}
		c.mu.Unlock()

	case EffectFinalize:
		c.mu.Lock()
		c.cancelTimersLocked()
		c.mu.Unlock()
		slog.Info("capture session finalized",
			"correlation_id", e.CorrelationID,
			"transcript_len", len(e.Transcript))
		if c.onFinalize != nil {
			c.onFinalize(e.CorrelationID, e.Transcript)
		}

	case EffectFail:
		c.mu.Lock()
		c.cancelTimersLocked()
		c.mu.Unlock()
		slog.Error("capture session failed",
			"correlation_id", e.CorrelationID, "error", e.Err)
		if c.onFailure != nil {
			c.onFailure(e.CorrelationID, e.Err)
		}
	}
}

// scheduleRestart arms the restart timer. The callback re-checks the
// correlation ID so a timer that outlives its session is discarded instead
// of firing into a successor.
func (c *Controller) scheduleRestart(correlationID string, delay time.Duration) {
	c.mu.Lock()
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	c.restartTimer = c.sched.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := c.closed || c.sess.CorrelationID != correlationID
		c.mu.Unlock()
		if stale {
			return
		}
		c.dispatch(EvRestartFired{})
	})
	c.mu.Unlock()
}

// manageSilenceTimer keeps a silence-check timer armed while the session is
// actively listening and disarms it otherwise.
func (c *Controller) manageSilenceTimer(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := !c.closed &&
		c.sess.CorrelationID == correlationID &&
		(c.sess.State == StateListening || c.sess.State == StatePausedOnSilence)

	if !active {
		if c.silenceTimer != nil {
			c.silenceTimer.Stop()
			c.silenceTimer = nil
		}
		return
	}
	if c.silenceTimer != nil {
		return
	}
	c.armSilenceTimerLocked(correlationID)
}

// armSilenceTimerLocked arms the next silence check. Caller holds c.mu.
func (c *Controller) armSilenceTimerLocked(correlationID string) {
	c.silenceTimer = c.sched.AfterFunc(c.policy.SilenceCheckInterval, func() {
		c.mu.Lock()
		active := !c.closed &&
			c.sess.CorrelationID == correlationID &&
			(c.sess.State == StateListening || c.sess.State == StatePausedOnSilence)
		if active {
			// Re-arm before dispatching so the check keeps ticking while
			// the session remains active.
			c.armSilenceTimerLocked(correlationID)
		} else {
			c.silenceTimer = nil
		}
		c.mu.Unlock()
		if !active {
			return
		}
		c.dispatch(EvSilenceTick{})
	})
}

// cancelTimersLocked stops both timers. Caller holds c.mu.
func (c *Controller) cancelTimersLocked() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}
