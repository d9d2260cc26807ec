// Package workspace keeps one browsing context's moving parts together:
// its session engine, activity bus and observer, and record facade. The
// registry drives them from principal changes and session events.
package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/activity"
	"github.com/templui/tracker/internal/docstore"
	"github.com/templui/tracker/internal/journal"
	"github.com/templui/tracker/internal/localstore"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/session"
)

const bindTimeout = 10 * time.Second

// Authenticator is the part of the auth service the registry follows.
type Authenticator interface {
	session.SignOuter
	CurrentPrincipal(ctx context.Context, contextID string) *model.Principal
	OnPrincipalChanged(fn func(service.PrincipalChange)) func()
}

// Notice tells a context once why its session ended.
type Notice struct {
	Code    service.AuthCode `json:"code"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// Workspace is the state of one browsing context.
type Workspace struct {
	ContextID string
	Engine    *session.Engine
	Bus       *activity.Bus
	Observer  *activity.Observer
	Journal   *journal.Facade

	closeOnce   sync.Once
	unsubscribe func()
}

// Live reports whether the context has a running session.
func (w *Workspace) Live() bool {
	return w.Engine.State().Live()
}

type Deps struct {
	Remote         docstore.Store
	Local          localstore.Store
	Stamps         session.StampStore
	Clock          clockwork.Clock
	Policy         session.Policy
	SessionMetrics *session.Metrics
	JournalMetrics *journal.Metrics
}

type Registry struct {
	auth Authenticator
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	spaces map[string]*Workspace
	// notices outlive their workspace: an expired context keeps only the
	// reason it ended, for at most noticeTTL.
	notices   map[string]Notice
	noticeTTL time.Duration

	stop func()
}

func NewRegistry(auth Authenticator, deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	ttl := deps.Policy.SessionTimeout
	if ttl <= 0 {
		ttl = session.SessionTimeout
	}
	r := &Registry{
		auth:      auth,
		deps:      deps,
		log:       slog.Default().With("component", "workspace"),
		spaces:    make(map[string]*Workspace),
		notices:   make(map[string]Notice),
		noticeTTL: ttl,
	}
	r.stop = auth.OnPrincipalChanged(r.onPrincipalChanged)
	return r
}

// Get returns the workspace of contextID, or nil.
func (r *Registry) Get(contextID string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spaces[contextID]
}

// Len counts open workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}

// PendingNotices counts notices not yet taken and not yet stale.
func (r *Registry) PendingNotices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepNoticesLocked(r.deps.Clock.Now())
	return len(r.notices)
}

func (r *Registry) open(contextID string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.spaces[contextID]; ok {
		return w
	}

	d := r.deps
	engine := session.NewEngine(contextID, d.Policy, d.Clock, d.Stamps, r.auth, d.SessionMetrics)
	bus := activity.NewBus()
	observer := activity.NewObserver(bus, engine)
	engine.SetActivitySource(observer)

	w := &Workspace{
		ContextID: contextID,
		Engine:    engine,
		Bus:       bus,
		Observer:  observer,
		Journal:   journal.NewFacade(d.Remote, d.Local, d.Clock, d.JournalMetrics),
	}
	w.unsubscribe = engine.Subscribe(func(ev session.Event) { r.onSessionEvent(w, ev) })
	r.spaces[contextID] = w
	return w
}

// TakeNotice returns the pending notice of contextID once. Notices older
// than the session timeout are dropped unseen.
func (r *Registry) TakeNotice(contextID string) *Notice {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notices[contextID]
	if !ok {
		return nil
	}
	delete(r.notices, contextID)
	if r.deps.Clock.Since(n.At) > r.noticeTTL {
		return nil
	}
	return &n
}

// sweepNoticesLocked drops notices nobody came back for.
func (r *Registry) sweepNoticesLocked(now time.Time) {
	for id, n := range r.notices {
		if now.Sub(n.At) > r.noticeTTL {
			delete(r.notices, id)
		}
	}
}

// Close detaches from the auth service and closes every workspace.
// Persisted session stamps are kept so sessions recover after a restart.
func (r *Registry) Close() {
	r.stop()

	r.mu.Lock()
	spaces := r.spaces
	r.spaces = make(map[string]*Workspace)
	r.notices = make(map[string]Notice)
	r.mu.Unlock()

	for _, w := range spaces {
		w.close()
	}
}

func (r *Registry) onPrincipalChanged(ch service.PrincipalChange) {
	ctx, cancel := context.WithTimeout(context.Background(), bindTimeout)
	defer cancel()

	if ch.Principal != nil {
		w := r.open(ch.ContextID)
		r.mu.Lock()
		delete(r.notices, ch.ContextID)
		r.mu.Unlock()
		if err := w.Journal.Bind(ctx, ch.Principal.ID); err != nil {
			r.log.Error("failed to bind records", "error", err, "context_id", ch.ContextID, "principal_id", ch.Principal.ID)
		}

		start := w.Engine.Start
		if ch.Restored {
			start = w.Engine.Recover
		}
		if err := start(ctx, ch.Principal.ID); err != nil {
			r.log.Warn("session start incomplete", "error", err, "context_id", ch.ContextID)
		}
		return
	}

	w := r.Get(ch.ContextID)
	if w == nil {
		return
	}

	// A sign-out issued by the engine's own expiry arrives while it is
	// Expired; the expiry event that follows drops the workspace.
	if w.Engine.State() == session.StateExpired {
		r.mu.Lock()
		if r.auth.CurrentPrincipal(ctx, ch.ContextID) == nil {
			w.Journal.Unbind()
		}
		r.mu.Unlock()
		return
	}
	if w.Live() {
		w.Engine.SignOut(ctx)
	}
	r.remove(w)
}

func (r *Registry) onSessionEvent(w *Workspace, ev session.Event) {
	switch ev.Kind {
	case session.EventWarning:
		r.log.Debug("session warning", "context_id", w.ContextID, "limit", ev.Cause)
		return
	case session.EventExpired:
	default:
		return
	}

	if ev.Err != nil {
		r.log.Warn("session expired but sign-out failed", "error", ev.Err, "context_id", w.ContextID)
	}

	code := service.CodeSessionExpired
	if ev.Cause == session.CauseInactive {
		code = service.CodeSessionInactive
	}

	// Checked under r.mu: a sign-in opens its workspace under the same
	// lock, after the auth service has recorded the principal.
	r.mu.Lock()
	if r.auth.CurrentPrincipal(context.Background(), w.ContextID) != nil {
		r.mu.Unlock()
		r.log.Info("context signed in again during expiry, workspace kept", "context_id", w.ContextID)
		return
	}
	if r.spaces[w.ContextID] == w {
		delete(r.spaces, w.ContextID)
	}
	r.sweepNoticesLocked(ev.At)
	r.notices[w.ContextID] = Notice{Code: code, Message: service.Message(code), At: ev.At}
	r.mu.Unlock()

	w.close()
}

func (r *Registry) remove(w *Workspace) {
	r.mu.Lock()
	if r.spaces[w.ContextID] == w {
		delete(r.spaces, w.ContextID)
	}
	r.mu.Unlock()
	w.close()
}

func (w *Workspace) close() {
	w.closeOnce.Do(func() {
		w.Observer.Stop()
		w.Journal.Close()
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})
}
