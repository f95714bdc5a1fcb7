package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultResolution is the polling period of the background loop.
const DefaultResolution = 10 * time.Millisecond

// ID identifies a registered timer.
type ID int

// Callback is invoked when a timer fires.
type Callback func()

// entry is one registered timer.
type entry struct {
	id       ID
	interval time.Duration
	due      time.Time
	fn       Callback
	enabled  bool
	maxRuns  int // 0 = unlimited
	runs     int
}

// Timer is a registry of interval and one-shot callbacks.
//
// All methods are safe for concurrent use.
type Timer struct {
	now        func() time.Time
	resolution time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[ID]*entry
	nextID  ID

	loopMu  sync.Mutex
	cancel  context.CancelFunc
	running bool
	gen     int
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithResolution sets the polling period used by Start.
func WithResolution(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.resolution = d
		}
	}
}

// WithLogger sets the logger used for recovered callback panics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Timer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates an empty Timer.
func New(opts ...Option) *Timer {
	t := &Timer{
		now:        time.Now,
		resolution: DefaultResolution,
		logger:     slog.Default(),
		entries:    make(map[ID]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetInterval registers fn to run every d. The first call happens d from now.
func (t *Timer) SetInterval(d time.Duration, fn Callback) (ID, error) {
	return t.add(d, fn, 0)
}

// SetTimeout registers fn to run once, d from now. The timer is removed
// after it fires.
func (t *Timer) SetTimeout(d time.Duration, fn Callback) (ID, error) {
	return t.add(d, fn, 1)
}

// SetTimer registers fn to run n times, every d.
func (t *Timer) SetTimer(d time.Duration, fn Callback, n int) (ID, error) {
	if n < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRuns, n)
	}
	return t.add(d, fn, n)
}

func (t *Timer) add(d time.Duration, fn Callback, maxRuns int) (ID, error) {
	if d <= 0 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidInterval, d)
	}
	if fn == nil {
		return 0, ErrNilCallback
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.entries[id] = &entry{
		id:       id,
		interval: d,
		due:      now.Add(d),
		fn:       fn,
		enabled:  true,
		maxRuns:  maxRuns,
	}
	return id, nil
}

// Enable resumes a disabled timer. Its schedule is unchanged.
func (t *Timer) Enable(id ID) error {
	return t.update(id, func(e *entry) { e.enabled = true })
}

// Disable pauses a timer. A disabled timer keeps its schedule but does not
// fire and does not consume runs.
func (t *Timer) Disable(id ID) error {
	return t.update(id, func(e *entry) { e.enabled = false })
}

// Toggle flips the enabled state of a timer.
func (t *Timer) Toggle(id ID) error {
	return t.update(id, func(e *entry) { e.enabled = !e.enabled })
}

// IsEnabled reports whether id exists and is enabled.
func (t *Timer) IsEnabled(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return ok && e.enabled
}

// Delete removes a timer.
func (t *Timer) Delete(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(t.entries, id)
	return nil
}

// ChangeInterval sets a new period. The next call happens d from now.
func (t *Timer) ChangeInterval(id ID, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, d)
	}
	now := t.now()
	return t.update(id, func(e *entry) {
		e.interval = d
		e.due = now.Add(d)
	})
}

// Restart reschedules a timer one interval from now and resets its run count.
func (t *Timer) Restart(id ID) error {
	now := t.now()
	return t.update(id, func(e *entry) {
		e.due = now.Add(e.interval)
		e.runs = 0
	})
}

// Len returns the number of registered timers.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Timer) update(id ID, fn func(*entry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	fn(e)
	return nil
}

// Run fires every enabled timer that is due and returns how many callbacks
// were invoked. Entries are re-checked just before each call, so a callback
// that deletes, disables or reschedules a later timer in the same poll
// takes effect immediately.
func (t *Timer) Run() int {
	now := t.now()

	t.mu.Lock()
	var due []*entry
	for _, e := range t.entries {
		if !now.Before(e.due) {
			due = append(due, e)
		}
	}
	t.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})

	fired := 0
	for _, e := range due {
		if fn := t.claim(e, now); fn != nil {
			t.invoke(e.id, fn)
			fired++
		}
	}
	return fired
}

// claim advances e past now and returns its callback when it should fire.
// It returns nil for entries that were removed, disabled or rescheduled
// since Run took its snapshot.
func (t *Timer) claim(e *entry, now time.Time) Callback {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries[e.id] != e || now.Before(e.due) {
		return nil
	}
	if !e.enabled {
		e.due = nextDue(e.due, e.interval, now)
		return nil
	}
	e.runs++
	if e.maxRuns > 0 && e.runs >= e.maxRuns {
		delete(t.entries, e.id)
	} else {
		e.due = nextDue(e.due, e.interval, now)
	}
	return e.fn
}

// nextDue advances due by whole intervals until it lies after now.
func nextDue(due time.Time, interval time.Duration, now time.Time) time.Time {
	next := due.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(due) / interval
	return due.Add((missed + 1) * interval)
}

func (t *Timer) invoke(id ID, fn Callback) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timer callback panic recovered",
				"timer_id", int(id),
				"panic", r,
			)
		}
	}()
	fn()
}

// Start runs Run every resolution period on a background goroutine until
// ctx is cancelled or Stop is called.
func (t *Timer) Start(ctx context.Context) error {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.gen++

	go t.loop(ctx, t.gen)
	return nil
}

// Stop ends the background loop. It does not wait for a callback that is
// already executing, so it is safe to call from inside a callback.
func (t *Timer) Stop() {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.running = false
}

// IsRunning reports whether the background loop is active.
func (t *Timer) IsRunning() bool {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()
	return t.running
}

func (t *Timer) loop(ctx context.Context, gen int) {
	ticker := time.NewTicker(t.resolution)
	defer ticker.Stop()

	defer func() {
		t.loopMu.Lock()
		// A later Start owns the state once gen has moved on.
		if t.gen == gen {
			t.running = false
			if t.cancel != nil {
				t.cancel()
				t.cancel = nil
			}
		}
		t.loopMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Run()
		}
	}
}
