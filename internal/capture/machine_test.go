package capture_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jhaensel/migralog/internal/capture"
)

var t0 = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func startedSession(t *testing.T, pol capture.Policy) capture.Session {
	t.Helper()
	s, effs := capture.Reduce(capture.Session{State: capture.StateIdle}, capture.EvStart{CorrelationID: "c1"}, t0, pol)
	if s.State != capture.StateListening {
		t.Fatalf("after EvStart: state = %s, want listening", s.State)
	}
	if len(effs) != 1 {
		t.Fatalf("after EvStart: %d effects, want 1 (start engine)", len(effs))
	}
	if _, ok := effs[0].(capture.EffectStartEngine); !ok {
		t.Fatalf("after EvStart: effect = %T, want EffectStartEngine", effs[0])
	}
	return s
}

func TestReduce_StartMintsFreshSession(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	s := startedSession(t, pol)

	if s.CorrelationID != "c1" {
		t.Errorf("CorrelationID = %q, want c1", s.CorrelationID)
	}
	if s.RestartCount != 0 {
		t.Errorf("RestartCount = %d, want 0", s.RestartCount)
	}
	if !s.SessionStart.Equal(t0) {
		t.Errorf("SessionStart = %v, want %v", s.SessionStart, t0)
	}
}

func TestReduce_SilencePauseAndResume(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	s := startedSession(t, pol)

	// Below the threshold nothing happens.
	s, _ = capture.Reduce(s, capture.EvSilenceTick{}, t0.Add(1*time.Second), pol)
	if s.State != capture.StateListening {
		t.Fatalf("tick below threshold: state = %s, want listening", s.State)
	}

	// At/over the 1.5s threshold the session pauses.
	s, _ = capture.Reduce(s, capture.EvSilenceTick{}, t0.Add(1500*time.Millisecond), pol)
	if s.State != capture.StatePausedOnSilence {
		t.Fatalf("tick over threshold: state = %s, want paused-on-silence", s.State)
	}

	// Sound resumes listening.
	s, _ = capture.Reduce(s, capture.EvSoundDetected{}, t0.Add(2*time.Second), pol)
	if s.State != capture.StateListening {
		t.Fatalf("sound while paused: state = %s, want listening", s.State)
	}
}

func TestReduce_SegmentsAccumulateAcrossRestarts(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	s := startedSession(t, pol)

	s, _ = capture.Reduce(s, capture.EvSegment{Text: "ich hatte"}, t0.Add(time.Second), pol)
	s, effs := capture.Reduce(s, capture.EvEngineEnded{}, t0.Add(2*time.Second), pol)
	if len(effs) != 1 {
		t.Fatalf("engine ended within budget: %d effects, want 1", len(effs))
	}
	sched, ok := effs[0].(capture.EffectScheduleRestart)
	if !ok {
		t.Fatalf("effect = %T, want EffectScheduleRestart", effs[0])
	}
	if sched.Delay != pol.RestartDelay {
		t.Errorf("restart delay = %v, want %v", sched.Delay, pol.RestartDelay)
	}
	s, _ = capture.Reduce(s, capture.EvRestartFired{}, t0.Add(3*time.Second), pol)
	s, _ = capture.Reduce(s, capture.EvSegment{Text: "starke Schmerzen"}, t0.Add(4*time.Second), pol)

	if got, want := s.Transcript(), "ich hatte starke Schmerzen"; got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
	if s.RestartCount != 1 {
		t.Errorf("RestartCount = %d, want 1", s.RestartCount)
	}
}

func TestReduce_RestartBudgetExceeded(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy() // MaxRestarts = 3 inside 20s
	s := startedSession(t, pol)

	now := t0
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		var effs []capture.Effect
		s, effs = capture.Reduce(s, capture.EvEngineEnded{}, now, pol)
		if _, ok := effs[0].(capture.EffectScheduleRestart); !ok {
			t.Fatalf("restart %d: effect = %T, want EffectScheduleRestart", i+1, effs[0])
		}
		s, _ = capture.Reduce(s, capture.EvRestartFired{}, now, pol)
	}
	if s.RestartCount != 3 {
		t.Fatalf("RestartCount = %d, want 3", s.RestartCount)
	}

	// Fourth end-of-session inside the window exhausts the budget.
	s, effs := capture.Reduce(s, capture.EvEngineEnded{}, now.Add(time.Second), pol)
	if s.State != capture.StateErrorTerminal {
		t.Fatalf("state = %s, want error-terminal", s.State)
	}
	if !errors.Is(s.Err, capture.ErrRestartBudgetExceeded) {
		t.Errorf("Err = %v, want ErrRestartBudgetExceeded", s.Err)
	}
	var failed bool
	for _, e := range effs {
		if _, ok := e.(capture.EffectScheduleRestart); ok {
			t.Error("budget exceeded but a 4th restart was scheduled")
		}
		if _, ok := e.(capture.EffectFail); ok {
			failed = true
		}
	}
	if !failed {
		t.Error("budget exceeded without an EffectFail")
	}

	// Terminal state accepts no further restarts.
	s2, effs := capture.Reduce(s, capture.EvEngineEnded{}, now.Add(2*time.Second), pol)
	if s2.State != capture.StateErrorTerminal || len(effs) != 0 {
		t.Errorf("event after terminal: state = %s, effects = %d, want terminal and none", s2.State, len(effs))
	}
}

func TestReduce_RollingWindowForgetsOldRestarts(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	s := startedSession(t, pol)

	// Three restarts early in the session.
	now := t0
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		s, _ = capture.Reduce(s, capture.EvEngineEnded{}, now, pol)
		s, _ = capture.Reduce(s, capture.EvRestartFired{}, now, pol)
	}

	// 25s later the window has rolled past them; the budget is available again.
	later := now.Add(25 * time.Second)
	s, effs := capture.Reduce(s, capture.EvEngineEnded{}, later, pol)
	if s.State == capture.StateErrorTerminal {
		t.Fatal("restart outside the rolling window counted against the budget")
	}
	if _, ok := effs[0].(capture.EffectScheduleRestart); !ok {
		t.Fatalf("effect = %T, want EffectScheduleRestart", effs[0])
	}
}

func TestReduce_TransientErrorRestartsHardErrorFails(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	s := startedSession(t, pol)

	// Transient ("no speech detected") behaves like end-of-session.
	s, effs := capture.Reduce(s, capture.EvEngineError{Err: errors.New("no-speech"), Transient: true}, t0.Add(time.Second), pol)
	if s.State == capture.StateErrorTerminal {
		t.Fatal("transient error with budget remaining must not be terminal")
	}
	if _, ok := effs[0].(capture.EffectScheduleRestart); !ok {
		t.Fatalf("transient error effect = %T, want EffectScheduleRestart", effs[0])
	}
	s, _ = capture.Reduce(s, capture.EvRestartFired{}, t0.Add(time.Second), pol)

	// A hard error terminates immediately.
	hard := errors.New("audio-capture")
	s, effs = capture.Reduce(s, capture.EvEngineError{Err: hard}, t0.Add(2*time.Second), pol)
	if s.State != capture.StateErrorTerminal {
		t.Fatalf("hard error: state = %s, want error-terminal", s.State)
	}
	if !errors.Is(s.Err, hard) {
		t.Errorf("Err = %v, want the recognizer error", s.Err)
	}
	var cancelled bool
	for _, e := range effs {
		if _, ok := e.(capture.EffectCancelRestart); ok {
			cancelled = true
		}
	}
	if !cancelled {
		t.Error("hard error did not cancel the pending restart timer")
	}
}

func TestReduce_StopFinalizesWithTranscript(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	s := startedSession(t, pol)
	s, _ = capture.Reduce(s, capture.EvSegment{Text: "Kopfschmerzen seit heute"}, t0.Add(time.Second), pol)

	s, effs := capture.Reduce(s, capture.EvStop{}, t0.Add(2*time.Second), pol)
	if s.State != capture.StateStopping {
		t.Fatalf("after EvStop: state = %s, want stopping", s.State)
	}
	var stopped, cancelled bool
	for _, e := range effs {
		switch e.(type) {
		case capture.EffectStopEngine:
			stopped = true
		case capture.EffectCancelRestart:
			cancelled = true
		}
	}
	if !stopped || !cancelled {
		t.Fatalf("EvStop effects: stop=%v cancel=%v, want both", stopped, cancelled)
	}

	s, effs = capture.Reduce(s, capture.EvEngineStopped{}, t0.Add(3*time.Second), pol)
	if s.State != capture.StateIdle {
		t.Fatalf("after EvEngineStopped: state = %s, want idle", s.State)
	}
	fin, ok := effs[0].(capture.EffectFinalize)
	if !ok {
		t.Fatalf("effect = %T, want EffectFinalize", effs[0])
	}
	if fin.Transcript != "Kopfschmerzen seit heute" {
		t.Errorf("finalized transcript = %q", fin.Transcript)
	}
	if fin.CorrelationID != "c1" {
		t.Errorf("finalized correlation id = %q, want c1", fin.CorrelationID)
	}
}

func TestReduce_IgnoresEventsInWrongStates(t *testing.T) {
	t.Parallel()

	pol := capture.DefaultPolicy()
	idle := capture.Session{State: capture.StateIdle}

	for _, ev := range []capture.Event{
		capture.EvSegment{Text: "x"},
		capture.EvEngineEnded{},
		capture.EvRestartFired{},
		capture.EvStop{},
		capture.EvEngineStopped{},
		capture.EvSilenceTick{},
	} {
		s, effs := capture.Reduce(idle, ev, t0, pol)
		if s.State != capture.StateIdle || len(effs) != 0 {
			t.Errorf("%T in idle: state = %s, effects = %d, want unchanged", ev, s.State, len(effs))
		}
	}
}
