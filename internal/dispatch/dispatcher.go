// Package dispatch holds one pending timer per reminder id and fires it at
// its scheduled time.
package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ImmediateThreshold is the delay at or under which a task fires
// synchronously inside Schedule.
const ImmediateThreshold = time.Second

// Task is one delayed callback.
type Task struct {
	ID    string
	Owner string
	Tag   string
	At    time.Time
	Fire  func()
}

// Timer is the subset of *time.Timer the dispatcher needs.
type Timer interface {
	Stop() bool
}

// Clock lets tests drive time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

type handle struct {
	task  Task
	timer Timer
}

type Dispatcher struct {
	clock   Clock
	logger  zerolog.Logger
	mu      sync.Mutex
	pending map[string]*handle
}

func New(clock Clock, logger zerolog.Logger) *Dispatcher {
	if clock == nil {
		clock = RealClock
	}
	return &Dispatcher{
		clock:   clock,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		pending: make(map[string]*handle),
	}
}

// Schedule cancels any pending handle for task.ID and registers task in the
// same critical section, so an id never has two live timers. It reports
// whether the task fired immediately.
func (d *Dispatcher) Schedule(task Task) bool {
	delay := task.At.Sub(d.clock.Now())

	d.mu.Lock()
	if prev, ok := d.pending[task.ID]; ok {
		prev.timer.Stop()
		delete(d.pending, task.ID)
		d.logger.Debug().Str("id", task.ID).Msg("replaced pending timer")
	}

	if delay <= ImmediateThreshold {
		d.mu.Unlock()
		d.logger.Debug().Str("id", task.ID).Dur("delay", delay).Msg("firing immediately")
		d.run(task)
		return true
	}

	h := &handle{task: task}
	h.timer = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		// a replacement may have taken the slot after this timer started
		if cur, ok := d.pending[task.ID]; !ok || cur != h {
			d.mu.Unlock()
			return
		}
		delete(d.pending, task.ID)
		d.mu.Unlock()

		d.run(task)
	})
	d.pending[task.ID] = h
	d.mu.Unlock()

	d.logger.Debug().Str("id", task.ID).Time("at", task.At).Dur("delay", delay).Msg("timer registered")
	return false
}

// run isolates a panicking callback so one bad task cannot take down the
// timer goroutine's caller.
func (d *Dispatcher) run(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().Interface("panic", rec).Str("id", task.ID).Msg("task panicked")
		}
	}()
	if task.Fire != nil {
		task.Fire()
	}
}

func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.pending[id]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(d.pending, id)
	return true
}

// CancelTag cancels every pending task carrying tag.
func (d *Dispatcher) CancelTag(tag string) int {
	return d.cancelWhere(func(t Task) bool { return t.Tag == tag })
}

// CancelOwner cancels every pending task belonging to owner.
func (d *Dispatcher) CancelOwner(owner string) int {
	return d.cancelWhere(func(t Task) bool { return t.Owner == owner })
}

// CancelAll stops every pending timer and empties the map. Safe to call
// repeatedly.
func (d *Dispatcher) CancelAll() int {
	return d.cancelWhere(func(Task) bool { return true })
}

func (d *Dispatcher) cancelWhere(match func(Task) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for id, h := range d.pending {
		if !match(h.task) {
			continue
		}
		h.timer.Stop()
		delete(d.pending, id)
		n++
	}
	return n
}

// Pending returns a snapshot of pending tasks.
func (d *Dispatcher) Pending() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Task, 0, len(d.pending))
	for _, h := range d.pending {
		out = append(out, h.task)
	}
	return out
}

func (d *Dispatcher) Has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[id]
	return ok
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
