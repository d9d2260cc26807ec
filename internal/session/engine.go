package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/templui/tracker/internal/model"
)

var (
	// ErrNoStamps is returned by a StampStore that holds nothing for a context.
	ErrNoStamps = errors.New("no session stamps")
	// ErrSuperseded is returned by a SignOuter when another principal has
	// signed in to the context since the session being torn down began.
	ErrSuperseded = errors.New("context signed in to another principal")
)

const storeTimeout = 5 * time.Second

// StampStore is durable per-context storage for session stamps.
// Only the engine writes to it.
type StampStore interface {
	Load(ctx context.Context, contextID string) (*model.SessionStamps, error)
	Save(ctx context.Context, stamps *model.SessionStamps) error
	Delete(ctx context.Context, contextID string) error
}

// SignOuter ends principalID's authentication in a browsing context. It
// leaves the context alone and returns ErrSuperseded when a different
// principal is signed in there by now.
type SignOuter interface {
	SignOutPrincipal(ctx context.Context, contextID, principalID string) error
}

// ActivitySource delivers activity to the engine between Start and Stop.
type ActivitySource interface {
	Start()
	Stop()
}

type EventKind int

const (
	EventStarted EventKind = iota
	// EventWarning marks the move from Active into a warning band. Cause
	// names the limit that is close.
	EventWarning
	EventExpired
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventWarning:
		return "warning"
	case EventExpired:
		return "expired"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is published to subscribers on every session boundary.
// For EventExpired, Err holds a non-fatal sign-out failure.
type Event struct {
	Kind        EventKind
	ContextID   string
	PrincipalID string
	Cause       Cause
	Recovered   bool
	Err         error
	At          time.Time
}

type timerKind int

const (
	timerAbsolute timerKind = iota
	timerInactivity
	timerWarning
	timerCount
)

// Engine runs the session policy for one browsing context.
type Engine struct {
	contextID string
	policy    Policy
	clock     clockwork.Clock
	store     StampStore
	signOuter SignOuter
	metrics   *Metrics
	log       *slog.Logger

	// lifecycle serializes Start, Recover, SignOut and expiry teardown
	// end to end. It is taken before mu, never after.
	lifecycle sync.Mutex

	mu     sync.Mutex
	snap   Snapshot
	source ActivitySource
	timers [timerCount]clockwork.Timer
	gens   [timerCount]uint64

	listenersMu  sync.Mutex
	listeners    map[uint64]func(Event)
	nextListener uint64
}

func NewEngine(
	contextID string,
	policy Policy,
	clock clockwork.Clock,
	store StampStore,
	signOuter SignOuter,
	metrics *Metrics,
) *Engine {
	return &Engine{
		contextID: contextID,
		policy:    policy,
		clock:     clock,
		store:     store,
		signOuter: signOuter,
		metrics:   metrics,
		log:       slog.Default().With("component", "session", "context_id", contextID),
		snap:      Snapshot{Stamps: model.SessionStamps{ContextID: contextID}},
		listeners: make(map[uint64]func(Event)),
	}
}

func (e *Engine) ContextID() string {
	return e.contextID
}

// SetActivitySource attaches the source that is started and stopped with
// the session.
func (e *Engine) SetActivitySource(src ActivitySource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = src
}

// Start begins a fresh session for principalID. Starting an already
// running session for the same principal is a no-op.
func (e *Engine) Start(ctx context.Context, principalID string) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.start(ctx, principalID)
}

func (e *Engine) start(ctx context.Context, principalID string) error {
	e.mu.Lock()
	if e.snap.State.Live() && e.snap.Stamps.PrincipalID == principalID {
		e.mu.Unlock()
		return nil
	}
	replaced := e.snap.State.Live()

	now := e.clock.Now()
	e.snap = Transition(e.snap, now, Input{Kind: InputSignedIn, PrincipalID: principalID}, e.policy)
	stamps := e.snap.Stamps
	e.armLocked(now)
	src := e.source

	err := e.store.Save(ctx, &stamps)
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("failed to persist session stamps", "error", err, "principal_id", principalID)
	}
	if src != nil {
		src.Start()
	}
	if replaced {
		e.metrics.ended()
	}
	e.metrics.started("sign_in")
	e.log.Info("session started", "principal_id", principalID)
	e.emit(Event{Kind: EventStarted, ContextID: e.contextID, PrincipalID: principalID, At: now})

	if err != nil {
		return fmt.Errorf("failed to persist session stamps: %w", err)
	}
	return nil
}

// Recover resumes a session after a reload using the persisted stamps.
// Timers are armed with the remaining time only. When a limit has already
// passed the session expires immediately.
func (e *Engine) Recover(ctx context.Context, principalID string) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.snap.State.Live() && e.snap.Stamps.PrincipalID == principalID {
		e.mu.Unlock()
		return nil
	}

	stamps, err := e.store.Load(ctx, e.contextID)
	if errors.Is(err, ErrNoStamps) || (err == nil && stamps.PrincipalID != principalID) {
		e.mu.Unlock()
		return e.start(ctx, principalID)
	}
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to load session stamps: %w", err)
	}

	now := e.clock.Now()
	e.snap = Transition(e.snap, now, Input{Kind: InputRecovered, PrincipalID: principalID, Stamps: stamps}, e.policy)
	if e.snap.State == StateExpired {
		e.metrics.started("recovered")
		finish := e.beginExpiryLocked(ctx)
		e.mu.Unlock()
		finish()
		return nil
	}

	e.armLocked(now)
	src := e.source
	e.mu.Unlock()

	if src != nil {
		src.Start()
	}
	e.metrics.started("recovered")
	e.log.Info("session recovered", "principal_id", principalID,
		"minutes_until_expiry", floorMinutes(e.policy.untilExpiry(*stamps, now)))
	e.emit(Event{Kind: EventStarted, ContextID: e.contextID, PrincipalID: principalID, Recovered: true, At: now})
	return nil
}

// Touch records activity. Only the inactivity stamp and timers are reset;
// the absolute ceiling stays where it is. Activity past a limit is ignored
// and the pending timer tears the session down.
func (e *Engine) Touch() {
	e.mu.Lock()
	if !e.snap.State.Live() {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	if state, _ := e.policy.Evaluate(e.snap.Stamps, now); state == StateExpired {
		e.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	e.snap = Transition(e.snap, now, Input{Kind: InputActivity}, e.policy)
	stamps := e.snap.Stamps
	e.armTimerLocked(timerInactivity, e.policy.untilInactivity(stamps, now))
	e.armWarningLocked(now)
	err := e.store.Save(ctx, &stamps)
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("failed to persist activity stamp", "error", err)
	}
	e.metrics.activity()
}

// SignOut tears the session down after an explicit sign-out. No expiry
// event is published.
func (e *Engine) SignOut(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.snap.State == StateInactive {
		e.mu.Unlock()
		return
	}
	wasLive := e.snap.State.Live()
	principalID := e.snap.Stamps.PrincipalID

	e.cancelTimersLocked()
	src := e.source
	e.snap = Transition(e.snap, e.clock.Now(), Input{Kind: InputSignedOut}, e.policy)
	err := e.store.Delete(ctx, e.contextID)
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("failed to clear session stamps", "error", err)
	}
	if src != nil {
		src.Stop()
	}
	if wasLive {
		e.metrics.ended()
	}
	e.log.Info("session ended", "principal_id", principalID)
	e.emit(Event{Kind: EventEnded, ContextID: e.contextID, PrincipalID: principalID, At: e.clock.Now()})
}

// State reports the session state now. Timer callbacks run on their own
// goroutine, so a running session is classified from its stamps: one that
// has reached a warning band or a limit reads as expiring until the timer
// catches up.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap.State != StateActive {
		return e.snap.State
	}
	if state, _ := e.policy.Evaluate(e.snap.Stamps, e.clock.Now()); state != StateActive {
		return StateExpiring
	}
	return StateActive
}

// Info computes the countdowns from the current time.
func (e *Engine) Info() Info {
	e.mu.Lock()
	snap := e.snap
	e.mu.Unlock()

	if !snap.State.Live() {
		return Info{State: snap.State}
	}
	return e.policy.Info(snap.Stamps, e.clock.Now())
}

// Subscribe registers fn for session events. The returned function
// unsubscribes and may be called any number of times.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.listeners, id)
			e.listenersMu.Unlock()
		})
	}
}

func (e *Engine) emit(ev Event) {
	e.listenersMu.Lock()
	fns := make([]func(Event), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (e *Engine) armLocked(now time.Time) {
	e.armTimerLocked(timerAbsolute, e.policy.untilExpiry(e.snap.Stamps, now))
	e.armTimerLocked(timerInactivity, e.policy.untilInactivity(e.snap.Stamps, now))
	e.armWarningLocked(now)
}

// armWarningLocked arms the timer for the nearer warning band, or cancels
// it once the session is already inside one.
func (e *Engine) armWarningLocked(now time.Time) {
	d, _ := e.policy.untilWarning(e.snap.Stamps, now)
	if d > 0 {
		e.armTimerLocked(timerWarning, d)
		return
	}
	if t := e.timers[timerWarning]; t != nil {
		t.Stop()
		e.timers[timerWarning] = nil
	}
	e.gens[timerWarning]++
}

func (e *Engine) armTimerLocked(kind timerKind, d time.Duration) {
	if t := e.timers[kind]; t != nil {
		t.Stop()
	}
	e.gens[kind]++
	gen := e.gens[kind]
	e.timers[kind] = e.clock.AfterFunc(d, func() { e.fire(kind, gen) })
}

func (e *Engine) cancelTimersLocked() {
	for i, t := range e.timers {
		if t != nil {
			t.Stop()
			e.timers[i] = nil
		}
		e.gens[i]++
	}
}

// fire runs on the clock's goroutine. A stale or torn down timer does
// nothing. Holding lifecycle keeps a sign-in for this context from
// starting until the teardown has finished.
func (e *Engine) fire(kind timerKind, gen uint64) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if !e.snap.State.Live() || e.gens[kind] != gen {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	prev := e.snap.State
	e.snap = Transition(e.snap, now, Input{Kind: InputTick}, e.policy)
	if e.snap.State != StateExpired {
		// Fired ahead of the stamps; wait out the remainder.
		e.armLocked(now)
		warned := prev == StateActive && e.snap.State == StateExpiring
		principalID := e.snap.Stamps.PrincipalID
		_, near := e.policy.untilWarning(e.snap.Stamps, now)
		e.mu.Unlock()

		if warned {
			e.log.Info("session nearing its limit", "principal_id", principalID, "limit", near)
			e.emit(Event{Kind: EventWarning, ContextID: e.contextID, PrincipalID: principalID, Cause: near, At: now})
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	finish := e.beginExpiryLocked(ctx)
	e.mu.Unlock()
	finish()
}

// beginExpiryLocked clears local state while the lock is held and returns
// the part of the teardown that must run without it.
func (e *Engine) beginExpiryLocked(ctx context.Context) func() {
	cause := e.snap.Cause
	principalID := e.snap.Stamps.PrincipalID

	e.cancelTimersLocked()
	src := e.source
	if err := e.store.Delete(ctx, e.contextID); err != nil {
		e.log.Warn("failed to clear session stamps", "error", err)
	}

	return func() {
		if src != nil {
			src.Stop()
		}

		var teardownErr error
		if e.signOuter != nil {
			err := e.signOuter.SignOutPrincipal(ctx, e.contextID, principalID)
			switch {
			case errors.Is(err, ErrSuperseded):
				e.mu.Lock()
				e.snap = Transition(e.snap, e.clock.Now(), Input{Kind: InputTornDown}, e.policy)
				e.mu.Unlock()
				e.metrics.expired(cause)
				e.log.Info("session expired after a newer sign-in, nothing to sign out", "principal_id", principalID, "cause", cause)
				return
			case err != nil:
				e.log.Error("sign-out failed during session expiry", "error", err, "principal_id", principalID, "cause", cause)
				e.metrics.signOutFailed()
				teardownErr = fmt.Errorf("sign-out after %s: %w", cause, err)
			}
		}

		e.mu.Lock()
		e.snap = Transition(e.snap, e.clock.Now(), Input{Kind: InputTornDown}, e.policy)
		e.mu.Unlock()

		e.metrics.expired(cause)
		e.log.Info("session expired", "principal_id", principalID, "cause", cause)
		e.emit(Event{
			Kind:        EventExpired,
			ContextID:   e.contextID,
			PrincipalID: principalID,
			Cause:       cause,
			Err:         teardownErr,
			At:          e.clock.Now(),
		})
	}
}
