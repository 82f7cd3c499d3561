package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mealcue/internal/database"
	"mealcue/pkg/models"
)

var (
	ErrAlreadyFired      = errors.New("reminder already fired")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// StateStore persists lifecycle states; lookups fill the tracker after a
// restart.
type StateStore interface {
	GetReminder(ctx context.Context, id string) (*database.StoredReminder, error)
	UpdateReminderState(ctx context.Context, id string, state models.State) error
}

type entry struct {
	state models.State
	at    time.Time
}

// Tracker enforces Scheduled → Fired → {Clicked | ActionTaken | Dismissed}.
// There is no way back to Scheduled; a new cycle needs a new id.
type Tracker struct {
	mu     sync.Mutex
	states map[string]entry
	store  StateStore
	now    func() time.Time
	logger zerolog.Logger
}

func NewTracker(store StateStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		states: make(map[string]entry),
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

var allowed = map[models.State][]models.State{
	models.StateScheduled: {models.StateScheduled, models.StateFired},
	models.StateFired:     {models.StateClicked, models.StateActionTaken, models.StateDismissed},
}

func canMove(from, to models.State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// State returns the known state of id, consulting storage on a miss.
func (t *Tracker) State(ctx context.Context, id string) (models.State, bool) {
	t.mu.Lock()
	e, ok := t.states[id]
	t.mu.Unlock()
	if ok {
		return e.state, true
	}

	if t.store == nil {
		return "", false
	}
	sr, err := t.store.GetReminder(ctx, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			t.logger.Error().Err(err).Str("id", id).Msg("state lookup failed")
		}
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.states[id]; ok {
		return cur.state, true
	}
	t.states[id] = entry{state: sr.State, at: sr.UpdatedAt}
	return sr.State, true
}

// Begin admits id into the Scheduled state.
func (t *Tracker) Begin(ctx context.Context, id string) error {
	return t.move(ctx, id, models.StateScheduled, false)
}

// Fire marks id as fired and persists it.
func (t *Tracker) Fire(ctx context.Context, id string) error {
	return t.move(ctx, id, models.StateFired, true)
}

// Settle moves a fired id into its terminal state. Ids the tracker has
// never seen (page-scheduled notifications) are not tracked.
func (t *Tracker) Settle(ctx context.Context, id string, to models.State) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, to)
	}
	if _, known := t.State(ctx, id); !known {
		return nil
	}
	return t.move(ctx, id, to, true)
}

// Forget drops a cancelled id.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
}

// Prune drops terminal entries last changed before cutoff.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, e := range t.states {
		if e.state.Terminal() && e.at.Before(cutoff) {
			delete(t.states, id)
			n++
		}
	}
	return n
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func (t *Tracker) move(ctx context.Context, id string, to models.State, persist bool) error {
	from, known := t.State(ctx, id)

	t.mu.Lock()
	if cur, ok := t.states[id]; ok {
		from, known = cur.state, true
	}
	switch {
	case !known && to == models.StateScheduled:
	case !known && to == models.StateFired:
		// fired without Begin, e.g. scheduled before the tracker existed
	case known && canMove(from, to):
	case known && from != models.StateScheduled && to == models.StateScheduled:
		t.mu.Unlock()
		return fmt.Errorf("%s: %w (state %s)", id, ErrAlreadyFired, from)
	default:
		t.mu.Unlock()
		return fmt.Errorf("%s: %w: %s -> %s", id, ErrInvalidTransition, from, to)
	}
	t.states[id] = entry{state: to, at: t.now()}
	t.mu.Unlock()

	if persist && t.store != nil {
		if err := t.store.UpdateReminderState(ctx, id, to); err != nil && !errors.Is(err, database.ErrNotFound) {
			t.logger.Error().Err(err).Str("id", id).Str("state", string(to)).Msg("failed to persist state")
		}
	}
	return nil
}
