// Package countdown reports the time remaining until a launch instant and keeps
// that value fresh once per second.
package countdown

import (
	"fmt"
	"sync"
	"time"
)

// Period is how often a running Timer recomputes its state.
const Period = time.Second

// State is the remaining time as zero-padded strings. Days is not capped.
type State struct {
	Days    string `json:"days"`
	Hours   string `json:"hours"`
	Minutes string `json:"minutes"`
	Seconds string `json:"seconds"`
}

// Zero is the terminal state once the target has passed.
var Zero = State{Days: "00", Hours: "00", Minutes: "00", Seconds: "00"}

// Remaining computes the state for target as seen at now. Every field is
// floored; once now reaches target the result is Zero.
func Remaining(target, now time.Time) State {
	diff := target.Sub(now).Milliseconds()
	if diff <= 0 {
		return Zero
	}
	const (
		second = int64(1000)
		minute = 60 * second
		hour   = 60 * minute
		day    = 24 * hour
	)
	return State{
		Days:    pad(diff / day),
		Hours:   pad(diff % day / hour),
		Minutes: pad(diff % hour / minute),
		Seconds: pad(diff % minute / second),
	}
}

func pad(n int64) string {
	return fmt.Sprintf("%02d", n)
}

// Ticker is the subset of *time.Ticker the Timer needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// WithTicker replaces the ticker factory, mainly for tests.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(t *Timer) { t.newTicker = newTicker }
}

// Timer owns at most one running tick loop. Each tick recomputes the state from
// the clock and hands it to onTick, which runs on the loop goroutine (or on the
// caller's goroutine for the immediate first computation in Start).
type Timer struct {
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	onTick    func(State)

	mu     sync.Mutex
	target time.Time
	state  State
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a stopped Timer for target. onTick may be nil.
func New(target time.Time, onTick func(State), opts ...Option) *Timer {
	t := &Timer{
		now:       time.Now,
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
		onTick:    onTick,
		target:    target,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state = Remaining(target, t.now())
	return t
}

// Start computes the state immediately and then once per Period until Stop.
// Starting a running Timer does nothing.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	target := t.target
	ticker := t.newTicker(Period)
	t.wg.Add(1)
	t.mu.Unlock()

	t.tick(target)
	go t.run(target, ticker, stop)
}

func (t *Timer) run(target time.Time, ticker Ticker, stop chan struct{}) {
	defer t.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}
			t.tick(target)
		}
	}
}

func (t *Timer) tick(target time.Time) {
	s := Remaining(target, t.now())
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	if t.onTick != nil {
		t.onTick(s)
	}
}

// Stop cancels the loop and waits for it to exit. No tick is delivered after
// Stop returns. Stopping a stopped Timer does nothing. Stop must not be called
// from onTick.
func (t *Timer) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	t.wg.Wait()
}

// SetTarget changes the target. A running Timer is stopped and restarted so no
// tick computes against the old target.
func (t *Timer) SetTarget(target time.Time) {
	t.mu.Lock()
	if target.Equal(t.target) {
		t.mu.Unlock()
		return
	}
	running := t.stop != nil
	t.mu.Unlock()

	if running {
		t.Stop()
	}
	t.mu.Lock()
	t.target = target
	t.state = Remaining(target, t.now())
	t.mu.Unlock()
	if running {
		t.Start()
	}
}

// Running reports whether the tick loop is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// State returns the most recently computed state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Target returns the instant being counted down to.
func (t *Timer) Target() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}
