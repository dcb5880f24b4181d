package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jhaensel/migralog/internal/capture"
)

// fakeTimer is a timer created by fakeScheduler.
type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler records armed timers and fires them only on demand, so tests
// control exactly when deferred work runs.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) capture.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fireDelay fires every pending timer armed with delay d. Returns the number
// of timers fired.
func (s *fakeScheduler) fireDelay(d time.Duration) int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if t.delay == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// pendingDelay counts unstopped, unfired timers with delay d.
func (s *fakeScheduler) pendingDelay(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if t.delay == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeEngine counts lifecycle calls.
type fakeEngine struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (e *fakeEngine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	return e.startErr
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestController(t *testing.T) (*capture.Controller, *fakeEngine, *fakeScheduler, *testClock, *[]error, *[]string) {
	t.Helper()

	engine := &fakeEngine{}
	sched := &fakeScheduler{}
	clock := &testClock{now: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)}
	failures := &[]error{}
	finals := &[]string{}

	c := capture.NewController(capture.ControllerConfig{
		Policy:    capture.DefaultPolicy(),
		Engine:    engine,
		Scheduler: sched,
		Now:       clock.Now,
		OnFinalize: func(_, transcript string) {
			*finals = append(*finals, transcript)
		},
		OnFailure: func(_ string, err error) {
			*failures = append(*failures, err)
		},
	})
	t.Cleanup(c.Close)
	return c, engine, sched, clock, failures, finals
}

func TestController_RestartBudgetExactlyThreeRestarts(t *testing.T) {
	t.Parallel()

	c, engine, sched, clock, failures, _ := newTestController(t)
	pol := capture.DefaultPolicy()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if engine.startCount() != 1 {
		t.Fatalf("engine starts = %d, want 1", engine.startCount())
	}

	// Simulated recognizer that always ends immediately.
	for i := 0; i < 3; i++ {
		clock.Advance(100 * time.Millisecond)
		c.EngineEnded()
		if fired := sched.fireDelay(pol.RestartDelay); fired != 1 {
			t.Fatalf("restart %d: fired %d restart timers, want 1", i+1, fired)
		}
	}
	if engine.startCount() != 4 { // initial start + 3 restarts
		t.Fatalf("engine starts = %d, want 4 (1 initial + 3 restarts)", engine.startCount())
	}

	// The 4th end-of-session exhausts the budget: no new timer, terminal state.
	clock.Advance(100 * time.Millisecond)
	c.EngineEnded()
	if n := sched.pendingDelay(pol.RestartDelay); n != 0 {
		t.Errorf("pending restart timers after budget exhaustion = %d, want 0", n)
	}
	if engine.startCount() != 4 {
		t.Errorf("engine starts = %d, want still 4 (never a 4th restart)", engine.startCount())
	}

	sess := c.Session()
	if sess.State != capture.StateErrorTerminal {
		t.Errorf("state = %s, want error-terminal", sess.State)
	}
	if len(*failures) != 1 || !errors.Is((*failures)[0], capture.ErrRestartBudgetExceeded) {
		t.Errorf("failures = %v, want one ErrRestartBudgetExceeded", *failures)
	}
}

func TestController_StopDeliversTranscriptAndCancelsTimers(t *testing.T) {
	t.Parallel()

	c, engine, sched, clock, _, finals := newTestController(t)
	pol := capture.DefaultPolicy()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Segment("ich hatte heute")
	clock.Advance(time.Second)
	c.Segment("starke Kopfschmerzen")

	// A pending restart must not survive the stop.
	c.EngineEnded()
	if n := sched.pendingDelay(pol.RestartDelay); n != 1 {
		t.Fatalf("pending restart timers = %d, want 1", n)
	}

	c.Stop()

	if got, want := len(*finals), 1; got != want {
		t.Fatalf("finalize callbacks = %d, want %d", got, want)
	}
	if (*finals)[0] != "ich hatte heute starke Kopfschmerzen" {
		t.Errorf("finalized transcript = %q", (*finals)[0])
	}
	if engine.stops == 0 {
		t.Error("engine was not stopped")
	}
	if n := sched.pendingDelay(pol.RestartDelay); n != 0 {
		t.Errorf("pending restart timers after stop = %d, want 0", n)
	}
	if n := sched.pendingDelay(pol.SilenceCheckInterval); n != 0 {
		t.Errorf("pending silence timers after stop = %d, want 0", n)
	}
	if got := c.Session().State; got != capture.StateIdle {
		t.Errorf("state after stop = %s, want idle", got)
	}
}

func TestController_StaleRestartTimerDiscardedAfterNewSession(t *testing.T) {
	t.Parallel()

	c, engine, sched, clock, _, _ := newTestController(t)
	pol := capture.DefaultPolicy()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.EngineEnded() // arms a restart timer
	c.Stop()        // supersedes the session

	// Start a fresh session, then fire whatever survived. The old callback
	// must notice the correlation ID mismatch and do nothing.
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	before := engine.startCount()
	clock.Advance(pol.RestartDelay)
	sched.fireDelay(pol.RestartDelay)
	if engine.startCount() != before {
		t.Errorf("stale restart timer started the engine: starts = %d, want %d", engine.startCount(), before)
	}
	if got := c.Session().State; got != capture.StateListening {
		t.Errorf("new session state = %s, want listening", got)
	}
}

func TestController_SilenceDetectionPausesAndResumes(t *testing.T) {
	t.Parallel()

	c, _, sched, clock, _, _ := newTestController(t)
	pol := capture.DefaultPolicy()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Under the 1.5s threshold the session stays listening.
	clock.Advance(pol.SilenceCheckInterval)
	sched.fireDelay(pol.SilenceCheckInterval)
	if got := c.Session().State; got != capture.StateListening {
		t.Fatalf("state after 500ms of silence = %s, want listening", got)
	}

	// Past the threshold the session pauses.
	clock.Advance(3 * pol.SilenceCheckInterval)
	sched.fireDelay(pol.SilenceCheckInterval)
	if got := c.Session().State; got != capture.StatePausedOnSilence {
		t.Fatalf("state after 2s of silence = %s, want paused-on-silence", got)
	}

	c.SoundDetected()
	if got := c.Session().State; got != capture.StateListening {
		t.Errorf("state after sound = %s, want listening", got)
	}
}

func TestController_HardEngineErrorIsTerminal(t *testing.T) {
	t.Parallel()

	c, _, _, _, failures, _ := newTestController(t)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hard := errors.New("audio-capture failed")
	c.EngineError(hard, false)

	if got := c.Session().State; got != capture.StateErrorTerminal {
		t.Errorf("state = %s, want error-terminal", got)
	}
	if len(*failures) != 1 || !errors.Is((*failures)[0], hard) {
		t.Errorf("failures = %v, want the recognizer error", *failures)
	}
}

func TestController_ClosedRejectsStart(t *testing.T) {
	t.Parallel()

	c, _, _, _, _, _ := newTestController(t)
	c.Close()
	if _, err := c.Start(context.Background()); !errors.Is(err, capture.ErrControllerClosed) {
		t.Errorf("Start after Close: err = %v, want ErrControllerClosed", err)
	}
}
