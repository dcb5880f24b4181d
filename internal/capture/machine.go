package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRestartBudgetExceeded marks a session that consumed its automatic
// restart budget within the rolling window.
var ErrRestartBudgetExceeded = errors.New("capture: restart budget exceeded")

// State is the lifecycle state of a capture session.
type State string

const (
	StateIdle            State = "idle"
	StateListening       State = "listening"
	StatePausedOnSilence State = "paused-on-silence"
	StateStopping        State = "stopping"
	StateErrorTerminal   State = "error-terminal"
)

// Terminal reports whether no further transitions are possible from s other
// than starting a fresh session.
func (s State) Terminal() bool {
	return s == StateErrorTerminal
}

// Session is the state-machine value for one listening session. It is a
// plain value: [Reduce] returns an updated copy rather than mutating in
// place, so transitions can be tested without timers actually firing.
type Session struct {
	State         State
	CorrelationID string
	RestartCount  int
	SessionStart  time.Time
	LastSound     time.Time

	// restartTimes holds the times of restarts inside the rolling window,
	// pruned on every budget check.
	restartTimes []time.Time

	// segments accumulates final transcript segments across restarts.
	segments []string

	// Err is the terminal failure cause, set when State is ErrorTerminal.
	Err error
}

// Transcript returns the accumulated transcript segments joined with single
// spaces.
func (s Session) Transcript() string {
	return strings.Join(s.segments, " ")
}

// Event is a capture-session input processed by [Reduce]. Implementations
// are the Ev* types in this package.
type Event interface {
	isEvent()
}

// EvStart begins a new session. CorrelationID must be freshly minted by the
// caller; it scopes every later trace step and effect.
type EvStart struct {
	CorrelationID string
}

// EvSegment delivers a final transcript segment from the recognizer.
type EvSegment struct {
	Text string
}

// EvSoundDetected reports recognizer audio activity, resuming a paused
// session.
type EvSoundDetected struct{}

// EvSilenceTick is the periodic silence-threshold check.
type EvSilenceTick struct{}

// EvEngineEnded reports that the recognizer terminated the session on its
// own, without an explicit stop.
type EvEngineEnded struct{}

// EvEngineError reports a recognizer error. Transient errors (e.g. "no
// speech detected") are treated like a normal end-of-session when restart
// budget remains.
type EvEngineError struct {
	Err       error
	Transient bool
}

// EvRestartFired signals that a scheduled restart timer elapsed.
type EvRestartFired struct{}

// EvStop is an explicit user or programmatic stop request.
type EvStop struct{}

// EvEngineStopped confirms that the recognizer has shut down after a stop
// request.
type EvEngineStopped struct{}

func (EvStart) isEvent()         {}
func (EvSegment) isEvent()       {}
func (EvSoundDetected) isEvent() {}
func (EvSilenceTick) isEvent()   {}
func (EvEngineEnded) isEvent()   {}
func (EvEngineError) isEvent()   {}
func (EvRestartFired) isEvent()  {}
func (EvStop) isEvent()          {}
func (EvEngineStopped) isEvent() {}

// Effect is a side effect requested by [Reduce]. The [Controller] executes
// effects; the reducer itself never touches timers or the engine.
type Effect interface {
	isEffect()
}

// EffectStartEngine asks the controller to start the recognizer.
type EffectStartEngine struct{}

// EffectStopEngine asks the controller to stop the recognizer.
type EffectStopEngine struct{}

// EffectScheduleRestart asks the controller to arm a cancellable one-shot
// restart timer.
type EffectScheduleRestart struct {
	Delay time.Duration
}

// EffectCancelRestart asks the controller to cancel any pending restart
// timer.
type EffectCancelRestart struct{}

// EffectFinalize hands the accumulated transcript to the downstream
// pipeline. Emitted exactly once per successfully stopped session.
type EffectFinalize struct {
	CorrelationID string
	Transcript    string
}

// EffectFail surfaces a terminal session failure.
type EffectFail struct {
	CorrelationID string
	Err           error
}

func (EffectStartEngine) isEffect()     {}
func (EffectStopEngine) isEffect()      {}
func (EffectScheduleRestart) isEffect() {}
func (EffectCancelRestart) isEffect()   {}
func (EffectFinalize) isEffect()        {}
func (EffectFail) isEffect()            {}

// Reduce applies ev to s at time now under pol and returns the next session
// value plus the effects the transition requires. Events that are not
// meaningful in the current state are ignored (unchanged session, no
// effects), which makes stale timer callbacks and duplicate engine events
// harmless.
func Reduce(s Session, ev Event, now time.Time, pol Policy) (Session, []Effect) {
	switch e := ev.(type) {
	case EvStart:
		if s.State != StateIdle && s.State != "" && !s.State.Terminal() {
			return s, nil
		}
		next := Session{
			State:         StateListening,
			CorrelationID: e.CorrelationID,
			SessionStart:  now,
			LastSound:     now,
		}
		return next, []Effect{EffectStartEngine{}}

	case EvSegment:
		if s.State != StateListening && s.State != StatePausedOnSilence {
			return s, nil
		}
		if strings.TrimSpace(e.Text) != "" {
			s.segments = append(append([]string(nil), s.segments...), strings.TrimSpace(e.Text))
		}
		s.LastSound = now
		s.State = StateListening
		return s, nil

	case EvSoundDetected:
		if s.State != StatePausedOnSilence && s.State != StateListening {
			return s, nil
		}
		s.LastSound = now
		s.State = StateListening
		return s, nil

	case EvSilenceTick:
		if s.State != StateListening {
			return s, nil
		}
		if now.Sub(s.LastSound) >= pol.SilenceThreshold {
			s.State = StatePausedOnSilence
		}
		return s, nil

	case EvEngineEnded:
		if s.State != StateListening && s.State != StatePausedOnSilence {
			return s, nil
		}
		return reduceRestart(s, now, pol)

	case EvEngineError:
		if s.State == StateIdle || s.State.Terminal() {
			return s, nil
		}
		if e.Transient && (s.State == StateListening || s.State == StatePausedOnSilence) {
			return reduceRestart(s, now, pol)
		}
		err := e.Err
		if err == nil {
			err = errors.New("capture: recognizer error")
		}
		s.State = StateErrorTerminal
		s.Err = err
		return s, []Effect{
			EffectCancelRestart{},
			EffectStopEngine{},
			EffectFail{CorrelationID: s.CorrelationID, Err: err},
		}

	case EvRestartFired:
		if s.State != StateListening && s.State != StatePausedOnSilence {
			return s, nil
		}
		return s, []Effect{EffectStartEngine{}}

	case EvStop:
		if s.State == StateIdle || s.State.Terminal() || s.State == StateStopping {
			return s, nil
		}
		s.State = StateStopping
		return s, []Effect{EffectCancelRestart{}, EffectStopEngine{}}

	case EvEngineStopped:
		if s.State != StateStopping {
			return s, nil
		}
		fin := EffectFinalize{CorrelationID: s.CorrelationID, Transcript: s.Transcript()}
		s.State = StateIdle
		return s, []Effect{fin}
	}

	return s, nil
}

// reduceRestart handles the shared restart-or-fail decision for engine
// end-of-session and transient errors.
func reduceRestart(s Session, now time.Time, pol Policy) (Session, []Effect) {
	inWindow := pruneWindow(s.restartTimes, now, pol.RestartWindow)
	if len(inWindow) >= pol.MaxRestarts {
		err := fmt.Errorf("%w: %d restarts within %s", ErrRestartBudgetExceeded, len(inWindow), pol.RestartWindow)
		s.restartTimes = inWindow
		s.State = StateErrorTerminal
		s.Err = err
		return s, []Effect{
			EffectCancelRestart{},
			EffectFail{CorrelationID: s.CorrelationID, Err: err},
		}
	}
	s.restartTimes = append(inWindow, now)
	s.RestartCount++
	return s, []Effect{EffectScheduleRestart{Delay: pol.RestartDelay}}
}

// pruneWindow returns the subset of times within window of now, preserving
// order.
func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
