package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/templui/tracker/internal/activity"
	"github.com/templui/tracker/internal/db"
	"github.com/templui/tracker/internal/docstore"
	"github.com/templui/tracker/internal/localstore"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/session"
)

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

// fakeAuth maps each context to the principal signed in there.
type fakeAuth struct {
	mu            sync.Mutex
	signedIn      map[string]string
	listeners     map[int]func(service.PrincipalChange)
	next          int
	beforeSignOut func(contextID string)
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{signedIn: map[string]string{}, listeners: map[int]func(service.PrincipalChange){}}
}

func (a *fakeAuth) OnPrincipalChanged(fn func(service.PrincipalChange)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *fakeAuth) emit(ch service.PrincipalChange) {
	a.mu.Lock()
	fns := make([]func(service.PrincipalChange), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (a *fakeAuth) signIn(contextID, principalID string, restored bool) {
	a.record(contextID, principalID)
	a.emit(signedInChange(contextID, principalID, restored))
}

// record binds the principal without telling listeners yet, the way the
// auth service does before it emits.
func (a *fakeAuth) record(contextID, principalID string) {
	a.mu.Lock()
	a.signedIn[contextID] = principalID
	a.mu.Unlock()
}

func signedInChange(contextID, principalID string, restored bool) service.PrincipalChange {
	return service.PrincipalChange{ContextID: contextID, Principal: &model.Principal{ID: principalID}, Restored: restored}
}

func (a *fakeAuth) SignOut(_ context.Context, contextID string) error {
	a.mu.Lock()
	_, was := a.signedIn[contextID]
	delete(a.signedIn, contextID)
	a.mu.Unlock()
	if was {
		a.emit(service.PrincipalChange{ContextID: contextID})
	}
	return nil
}

func (a *fakeAuth) SignOutPrincipal(_ context.Context, contextID, principalID string) error {
	a.mu.Lock()
	hook := a.beforeSignOut
	a.beforeSignOut = nil
	a.mu.Unlock()
	if hook != nil {
		hook(contextID)
	}

	a.mu.Lock()
	current, was := a.signedIn[contextID]
	if was && current != principalID {
		a.mu.Unlock()
		return session.ErrSuperseded
	}
	delete(a.signedIn, contextID)
	a.mu.Unlock()
	if was {
		a.emit(service.PrincipalChange{ContextID: contextID})
	}
	return nil
}

func (a *fakeAuth) CurrentPrincipal(_ context.Context, contextID string) *model.Principal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.signedIn[contextID]; ok {
		return &model.Principal{ID: id}
	}
	return nil
}

func (a *fakeAuth) isSignedIn(contextID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.signedIn[contextID]
	return ok
}

func (a *fakeAuth) principalIn(contextID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signedIn[contextID]
}

type memStamps struct {
	mu   sync.Mutex
	byID map[string]model.SessionStamps
}

func (s *memStamps) Load(_ context.Context, contextID string) (*model.SessionStamps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[contextID]
	if !ok {
		return nil, session.ErrNoStamps
	}
	return &st, nil
}

func (s *memStamps) Save(_ context.Context, st *model.SessionStamps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[st.ContextID] = *st
	return nil
}

func (s *memStamps) Delete(_ context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, contextID)
	return nil
}

func (s *memStamps) has(contextID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[contextID]
	return ok
}

type fixture struct {
	auth     *fakeAuth
	stamps   *memStamps
	clock    *clockwork.FakeClock
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := sqlx.Connect("sqlite", filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.RunMigrations(conn.DB, "sqlite"))

	f := &fixture{
		auth:   newFakeAuth(),
		stamps: &memStamps{byID: map[string]model.SessionStamps{}},
		clock:  clockwork.NewFakeClockAt(t0),
	}
	f.registry = NewRegistry(f.auth, Deps{
		Remote: docstore.NewSQLStore(conn, docstore.WithRules(docstore.OwnerOnly)),
		Local:  localstore.NewMemoryStore(),
		Stamps: f.stamps,
		Clock:  f.clock,
		Policy: session.DefaultPolicy(),
	})
	t.Cleanup(f.registry.Close)
	return f
}

func (f *fixture) waitState(t *testing.T, w *Workspace, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool { return w.Engine.State() == want }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) waitNotices(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.registry.PendingNotices() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestSignInOpensWorkspace(t *testing.T) {
	f := newFixture(t)

	f.auth.signIn("ctx-1", "alice", false)

	w := f.registry.Get("ctx-1")
	require.NotNil(t, w)
	assert.True(t, w.Live())
	assert.True(t, w.Observer.Running())
	assert.Equal(t, "alice", w.Journal.PrincipalID())
	assert.True(t, f.stamps.has("ctx-1"))
	assert.Nil(t, f.registry.Get("ctx-2"))
}

func TestActivityKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	f.auth.signIn("ctx-1", "alice", false)
	w := f.registry.Get("ctx-1")

	f.clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, w.Bus.Dispatch(activity.Signal{Kind: activity.Click, At: f.clock.Now()}))
	f.clock.Advance(20 * time.Minute)

	// Forty minutes in, only twenty of them idle.
	assert.True(t, w.Live())
	assert.Equal(t, 20, w.Engine.Info().TimeSinceActivityMinutes)
	assert.True(t, f.auth.isSignedIn("ctx-1"))
}

func TestInactivityExpiryLeavesNotice(t *testing.T) {
	f := newFixture(t)
	f.auth.signIn("ctx-1", "alice", false)
	w := f.registry.Get("ctx-1")

	f.clock.Advance(30 * time.Minute)
	f.waitState(t, w, session.StateInactive)
	f.waitNotices(t, 1)

	assert.False(t, f.auth.isSignedIn("ctx-1"))
	assert.False(t, f.stamps.has("ctx-1"))
	assert.Empty(t, w.Journal.PrincipalID())
	assert.False(t, w.Observer.Running())
	assert.Nil(t, f.registry.Get("ctx-1"))

	n := f.registry.TakeNotice("ctx-1")
	require.NotNil(t, n)
	assert.Equal(t, service.CodeSessionInactive, n.Code)
	assert.Equal(t, "You have been signed out due to inactivity.", n.Message)

	assert.Nil(t, f.registry.TakeNotice("ctx-1"))
	assert.Equal(t, 0, f.registry.Len())
}

func TestExplicitSignOutDropsWorkspace(t *testing.T) {
	f := newFixture(t)
	f.auth.signIn("ctx-1", "alice", false)
	w := f.registry.Get("ctx-1")

	require.NoError(t, f.auth.SignOut(context.Background(), "ctx-1"))

	assert.Equal(t, session.StateInactive, w.Engine.State())
	assert.False(t, f.stamps.has("ctx-1"))
	assert.Nil(t, f.registry.Get("ctx-1"))
	assert.Nil(t, f.registry.TakeNotice("ctx-1"))
}

func TestRestoredPastCeilingExpiresAtOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stamps.Save(context.Background(), &model.SessionStamps{
		ContextID:    "ctx-1",
		PrincipalID:  "alice",
		SessionStart: t0.Add(-3 * time.Hour),
		LastActivity: t0.Add(-time.Minute),
	}))

	f.auth.signIn("ctx-1", "alice", true)

	assert.False(t, f.auth.isSignedIn("ctx-1"))
	n := f.registry.TakeNotice("ctx-1")
	require.NotNil(t, n)
	assert.Equal(t, service.CodeSessionExpired, n.Code)
}

func TestRestoredSessionKeepsRemainingTime(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stamps.Save(context.Background(), &model.SessionStamps{
		ContextID:    "ctx-1",
		PrincipalID:  "alice",
		SessionStart: t0.Add(-time.Hour),
		LastActivity: t0.Add(-10 * time.Minute),
	}))

	f.auth.signIn("ctx-1", "alice", true)
	w := f.registry.Get("ctx-1")
	require.NotNil(t, w)
	assert.True(t, w.Live())
	assert.Equal(t, 60, w.Engine.Info().MinutesUntilExpiry)
	assert.Equal(t, 20, w.Engine.Info().MinutesUntilInactivity)

	f.clock.Advance(20 * time.Minute)
	f.waitState(t, w, session.StateInactive)
}

func TestSignInAgainClearsNotice(t *testing.T) {
	f := newFixture(t)
	f.auth.signIn("ctx-1", "alice", false)
	w := f.registry.Get("ctx-1")

	f.clock.Advance(2 * time.Hour)
	f.waitState(t, w, session.StateInactive)
	f.waitNotices(t, 1)

	f.auth.signIn("ctx-1", "alice", false)
	fresh := f.registry.Get("ctx-1")
	require.NotNil(t, fresh)
	assert.NotSame(t, w, fresh)
	assert.True(t, fresh.Live())
	assert.Nil(t, f.registry.TakeNotice("ctx-1"))
}

func TestExpiredWorkspacesAreReleased(t *testing.T) {
	f := newFixture(t)
	for i := range 20 {
		f.auth.signIn(fmt.Sprintf("ctx-%d", i), fmt.Sprintf("p-%d", i), false)
	}
	require.Equal(t, 20, f.registry.Len())

	// Nobody comes back to collect the notices.
	f.clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	f.waitNotices(t, 20)

	f.clock.Advance(2*time.Hour + time.Minute)
	assert.Equal(t, 0, f.registry.PendingNotices())
	assert.Nil(t, f.registry.TakeNotice("ctx-3"))
}

func TestStaleNoticeIsNotShown(t *testing.T) {
	f := newFixture(t)
	f.auth.signIn("ctx-1", "alice", false)

	f.clock.Advance(30 * time.Minute)
	f.waitNotices(t, 1)

	f.clock.Advance(3 * time.Hour)
	assert.Nil(t, f.registry.TakeNotice("ctx-1"))
}

func TestSignInDuringExpiryKeepsNewSession(t *testing.T) {
	f := newFixture(t)
	f.auth.signIn("ctx-1", "alice", false)
	w := f.registry.Get("ctx-1")

	// Bob signs in to the tab just as alice's inactivity teardown signs out.
	emitted := make(chan struct{})
	f.auth.mu.Lock()
	f.auth.beforeSignOut = func(contextID string) {
		f.auth.record(contextID, "bob")
		go func() {
			f.auth.emit(signedInChange(contextID, "bob", false))
			close(emitted)
		}()
	}
	f.auth.mu.Unlock()

	f.clock.Advance(30 * time.Minute)
	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("bob's sign-in never completed")
	}

	assert.Equal(t, "bob", f.auth.principalIn("ctx-1"))
	require.Same(t, w, f.registry.Get("ctx-1"))
	assert.True(t, w.Live())
	assert.True(t, w.Observer.Running())
	assert.Equal(t, "bob", w.Journal.PrincipalID())
	assert.True(t, f.stamps.has("ctx-1"))
	assert.Equal(t, 0, f.registry.PendingNotices())
	assert.Nil(t, f.registry.TakeNotice("ctx-1"))
}
