// Package journal is the data access facade for journal records. Callers
// see one record set per principal and never learn whether the document
// store or the on-device fallback served a request.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/templui/tracker/internal/docstore"
	"github.com/templui/tracker/internal/localstore"
	"github.com/templui/tracker/internal/model"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrNotBound       = errors.New("not signed in")
)

// OpError is a failed facade operation, rendered as "<op> failed: <cause>".
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + " failed: " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Snapshot is the full ordered record set of the bound principal, newest
// created first. Seq grows with every snapshot a facade publishes.
// Records are shared between subscribers and must not be modified.
type Snapshot struct {
	Seq         uint64
	PrincipalID string
	Records     []*model.Record
	Status      model.SyncStatus
}

// Export is a point-in-time copy of a principal's records.
type Export struct {
	PrincipalID string           `json:"userId"`
	ExportedAt  time.Time        `json:"exportDate"`
	SyncStatus  model.SyncStatus `json:"syncStatus"`
	Records     []*model.Record  `json:"tasks"`
}

type subscriber struct {
	mailbox *Mailbox
	fn      func(Snapshot)
	done    chan struct{}
	closed  atomic.Bool
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.mailbox.Ready():
		}
		snap, ok := s.mailbox.Take()
		if !ok || s.closed.Load() {
			continue
		}
		s.fn(snap)
	}
}

// Facade serves one browsing context.
type Facade struct {
	remote  docstore.Store
	local   localstore.Store
	clock   clockwork.Clock
	metrics *Metrics
	log     *slog.Logger

	// serializes read-modify-write cycles on the fallback set
	localMu sync.Mutex

	mu          sync.Mutex
	principalID string
	gen         uint64
	stopRemote  func()
	status      model.SyncStatus
	seq         uint64
	last        *Snapshot
	subs        map[uint64]*subscriber
	statusSubs  map[uint64]func(model.SyncStatus)
	nextID      uint64
}

func NewFacade(remote docstore.Store, local localstore.Store, clock clockwork.Clock, metrics *Metrics) *Facade {
	return &Facade{
		remote:     remote,
		local:      local,
		clock:      clock,
		metrics:    metrics,
		log:        slog.Default().With("component", "journal"),
		status:     model.SyncDisconnected,
		subs:       make(map[uint64]*subscriber),
		statusSubs: make(map[uint64]func(model.SyncStatus)),
	}
}

// Bind scopes the facade to principalID and opens the remote change feed.
// A previous principal's feed is torn down first. When the store refuses
// the feed, the facade serves the on-device fallback and reports offline.
func (f *Facade) Bind(ctx context.Context, principalID string) error {
	if principalID == "" {
		f.Unbind()
		return nil
	}

	f.mu.Lock()
	if f.principalID == principalID {
		f.mu.Unlock()
		return nil
	}
	stop := f.stopRemote
	f.stopRemote = nil
	f.gen++
	gen := f.gen
	f.principalID = principalID
	f.last = nil
	f.mu.Unlock()

	if stop != nil {
		stop()
	}
	f.setStatus(model.SyncSyncing)
	return f.openFeed(ctx, gen, principalID)
}

// openFeed subscribes to the principal's collection. A refused feed is not
// an error: the fallback set is published instead.
func (f *Facade) openFeed(ctx context.Context, gen uint64, principalID string) error {
	feedCtx := docstore.WithCaller(context.WithoutCancel(ctx), principalID)
	stop, err := f.remote.Subscribe(feedCtx, docstore.CollectionPath(principalID), func(docs []json.RawMessage, err error) {
		f.onRemote(gen, principalID, docs, err)
	})
	if errors.Is(err, docstore.ErrPermissionDenied) {
		f.log.Warn("record feed denied, serving on-device fallback", "principal_id", principalID, "error", err)
		f.setStatus(model.SyncOffline)
		f.publishLocal(ctx, gen, principalID)
		return nil
	}
	if err != nil {
		f.setStatus(model.SyncError)
		return fmt.Errorf("subscribe to records: %w", err)
	}

	f.mu.Lock()
	if f.gen != gen || f.stopRemote != nil {
		f.mu.Unlock()
		stop()
		return nil
	}
	f.stopRemote = stop
	f.mu.Unlock()

	f.log.Info("record feed opened", "principal_id", principalID)
	return nil
}

// Unbind closes the remote feed and publishes an empty snapshot so no
// records of the previous principal stay on screen.
func (f *Facade) Unbind() {
	f.mu.Lock()
	if f.principalID == "" {
		f.mu.Unlock()
		return
	}
	principalID := f.principalID
	stop := f.stopRemote
	f.stopRemote = nil
	f.gen++
	gen := f.gen
	f.principalID = ""
	f.last = nil
	f.mu.Unlock()

	if stop != nil {
		stop()
	}
	f.setStatus(model.SyncDisconnected)
	f.publish(gen, []*model.Record{})
	f.log.Info("record feed closed", "principal_id", principalID)
}

// Close unbinds and stops every subscriber.
func (f *Facade) Close() {
	f.Unbind()

	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[uint64]*subscriber)
	f.mu.Unlock()

	for _, s := range subs {
		if s.closed.CompareAndSwap(false, true) {
			close(s.done)
		}
	}
}

func (f *Facade) PrincipalID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.principalID
}

// Subscribe registers fn for record snapshots. fn runs on its own
// goroutine and only ever sees the newest snapshot; older ones that were
// not yet delivered are skipped. The latest snapshot, if any, is delivered
// right away. The returned function may be called any number of times.
func (f *Facade) Subscribe(fn func(Snapshot)) func() {
	sub := &subscriber{mailbox: NewMailbox(), fn: fn, done: make(chan struct{})}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	last := f.last
	f.mu.Unlock()

	if last != nil {
		sub.mailbox.Put(*last)
	}
	go sub.run()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.done)
		}
	}
}

func (f *Facade) SyncStatus() model.SyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// OnSyncStatus registers fn for status changes. fn is called synchronously
// and must not block.
func (f *Facade) OnSyncStatus(fn func(model.SyncStatus)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.statusSubs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.statusSubs, id)
			f.mu.Unlock()
		})
	}
}

func (f *Facade) setStatus(status model.SyncStatus) {
	f.mu.Lock()
	if f.status == status {
		f.mu.Unlock()
		return
	}
	f.status = status
	fns := make([]func(model.SyncStatus), 0, len(f.statusSubs))
	for _, fn := range f.statusSubs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

// Save stores r for the bound principal. An id is assigned when missing
// and the timestamps are stamped. The stored copy is returned.
func (f *Facade) Save(ctx context.Context, r *model.Record) (*model.Record, error) {
	principalID, gen, err := f.bound()
	if err != nil {
		return nil, f.fail("save", err)
	}

	rec := r.Clone()
	now := f.clock.Now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.PrincipalID = principalID
	rec.ApplyDefaults()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := rec.Validate(); err != nil {
		return nil, f.fail("save", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, f.fail("save", err)
	}

	err = f.remote.Set(f.caller(ctx, principalID), docstore.CollectionPath(principalID), rec.ID, data)
	switch {
	case err == nil:
	case errors.Is(err, docstore.ErrPermissionDenied):
		err = f.fallback(ctx, "save", gen, principalID, func(records []*model.Record) ([]*model.Record, error) {
			return upsert(records, rec), nil
		})
		if err != nil {
			return nil, f.fail("save", err)
		}
	default:
		f.setStatus(model.SyncError)
		return nil, f.fail("save", err)
	}

	f.metrics.op("save", nil)
	return rec, nil
}

// Update merges patch into the record with id.
func (f *Facade) Update(ctx context.Context, id string, patch model.RecordPatch) error {
	principalID, gen, err := f.bound()
	if err != nil {
		return f.fail("update", err)
	}
	if err := patch.Validate(); err != nil {
		return f.fail("update", err)
	}

	now := f.clock.Now()
	patch.Stamp(now)

	err = f.remote.Update(f.caller(ctx, principalID), docstore.CollectionPath(principalID), id, patch.Fields(now))
	if errors.Is(err, docstore.ErrPermissionDenied) || errors.Is(err, docstore.ErrNotFound) {
		err = f.fallback(ctx, "update", gen, principalID, func(records []*model.Record) ([]*model.Record, error) {
			for _, r := range records {
				if r.ID == id {
					patch.Apply(r, now)
					return records, nil
				}
			}
			return nil, ErrRecordNotFound
		})
	}
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			f.setStatus(model.SyncError)
		}
		return f.fail("update", err)
	}

	f.metrics.op("update", nil)
	return nil
}

// BulkUpdate applies patch to every id and returns how many were updated.
// Failures do not stop the remaining updates.
func (f *Facade) BulkUpdate(ctx context.Context, ids []string, patch model.RecordPatch) (int, error) {
	var errs []error
	updated := 0
	for _, id := range ids {
		if err := f.Update(ctx, id, patch); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

func (f *Facade) Delete(ctx context.Context, id string) error {
	principalID, gen, err := f.bound()
	if err != nil {
		return f.fail("delete", err)
	}

	err = f.remote.Delete(f.caller(ctx, principalID), docstore.CollectionPath(principalID), id)
	if errors.Is(err, docstore.ErrPermissionDenied) || errors.Is(err, docstore.ErrNotFound) {
		err = f.fallback(ctx, "delete", gen, principalID, func(records []*model.Record) ([]*model.Record, error) {
			for i, r := range records {
				if r.ID == id {
					return append(records[:i], records[i+1:]...), nil
				}
			}
			return nil, ErrRecordNotFound
		})
	}
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			f.setStatus(model.SyncError)
		}
		return f.fail("delete", err)
	}

	f.metrics.op("delete", nil)
	return nil
}

func (f *Facade) Get(ctx context.Context, id string) (*model.Record, error) {
	principalID, _, err := f.bound()
	if err != nil {
		return nil, f.fail("load", err)
	}

	data, err := f.remote.Get(f.caller(ctx, principalID), docstore.CollectionPath(principalID), id)
	if err == nil {
		rec := &model.Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, f.fail("load", fmt.Errorf("decode record: %w", err))
		}
		return rec, nil
	}
	if !errors.Is(err, docstore.ErrPermissionDenied) && !errors.Is(err, docstore.ErrNotFound) {
		return nil, f.fail("load", err)
	}

	local, err := localstore.LoadRecords(ctx, f.local, principalID)
	if err != nil {
		return nil, f.fail("load", err)
	}
	for _, r := range local {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, f.fail("load", ErrRecordNotFound)
}

// List returns the current record set, newest created first.
func (f *Facade) List(ctx context.Context) ([]*model.Record, error) {
	principalID, _, err := f.bound()
	if err != nil {
		return nil, f.fail("list", err)
	}
	records, _, _, err := f.load(ctx, principalID)
	if err != nil {
		return nil, f.fail("list", err)
	}
	return records, nil
}

// MigrateLocal pushes fallback records to the document store and drops
// the ones that made it. It returns how many were moved.
func (f *Facade) MigrateLocal(ctx context.Context) (int, error) {
	principalID, gen, err := f.bound()
	if err != nil {
		return 0, f.fail("migrate", err)
	}

	f.localMu.Lock()
	records, err := localstore.LoadRecords(ctx, f.local, principalID)
	if err != nil {
		f.localMu.Unlock()
		return 0, f.fail("migrate", err)
	}

	var (
		remaining []*model.Record
		errs      []error
		migrated  int
	)
	for i, r := range records {
		data, err := json.Marshal(r)
		if err == nil {
			err = f.remote.Set(f.caller(ctx, principalID), docstore.CollectionPath(principalID), r.ID, data)
		}
		if errors.Is(err, docstore.ErrPermissionDenied) {
			remaining = append(remaining, records[i:]...)
			errs = append(errs, err)
			break
		}
		if err != nil {
			remaining = append(remaining, r)
			errs = append(errs, fmt.Errorf("%s: %w", r.ID, err))
			continue
		}
		migrated++
	}

	if migrated > 0 {
		if err := localstore.SaveRecords(ctx, f.local, principalID, remaining); err != nil {
			errs = append(errs, err)
		}
	}
	f.localMu.Unlock()

	f.log.Info("migrated fallback records", "principal_id", principalID, "migrated", migrated, "remaining", len(remaining))
	f.refresh(ctx, gen, principalID)

	f.mu.Lock()
	feedClosed := f.gen == gen && f.stopRemote == nil
	f.mu.Unlock()
	if feedClosed && migrated > 0 {
		if err := f.openFeed(ctx, gen, principalID); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return migrated, f.fail("migrate", err)
	}
	f.metrics.op("migrate", nil)
	return migrated, nil
}

func (f *Facade) Export(ctx context.Context) (*Export, error) {
	records, err := f.List(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{
		PrincipalID: f.PrincipalID(),
		ExportedAt:  f.clock.Now(),
		SyncStatus:  f.SyncStatus(),
		Records:     records,
	}, nil
}

func (f *Facade) bound() (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.principalID == "" {
		return "", 0, ErrNotBound
	}
	return f.principalID, f.gen, nil
}

func (f *Facade) caller(ctx context.Context, principalID string) context.Context {
	return docstore.WithCaller(ctx, principalID)
}

func (f *Facade) fail(op string, err error) error {
	f.metrics.op(op, err)
	return &OpError{Op: op, Err: err}
}

// fallback runs mutate against the on-device record set and persists the
// result in one write.
func (f *Facade) fallback(
	ctx context.Context,
	op string,
	gen uint64,
	principalID string,
	mutate func([]*model.Record) ([]*model.Record, error),
) error {
	f.localMu.Lock()
	records, err := localstore.LoadRecords(ctx, f.local, principalID)
	if err == nil {
		records, err = mutate(records)
	}
	if err == nil {
		err = localstore.SaveRecords(ctx, f.local, principalID, records)
	}
	f.localMu.Unlock()
	if err != nil {
		return err
	}

	f.metrics.fallback(op)
	f.log.Warn("document store unavailable, used on-device fallback", "op", op, "principal_id", principalID)
	f.setStatus(model.SyncOffline)
	f.refresh(ctx, gen, principalID)
	return nil
}

// load merges the remote set with fallback records the remote does not
// know yet. remote reports whether the document store answered, pending
// counts records that exist only on the device.
func (f *Facade) load(ctx context.Context, principalID string) (records []*model.Record, remote bool, pending int, err error) {
	local, err := localstore.LoadRecords(ctx, f.local, principalID)
	if err != nil {
		return nil, false, 0, err
	}

	docs, err := f.remote.Query(f.caller(ctx, principalID), docstore.CollectionPath(principalID))
	if errors.Is(err, docstore.ErrPermissionDenied) {
		sortNewestFirst(local)
		return local, false, len(local), nil
	}
	if err != nil {
		return nil, false, 0, err
	}
	records, pending = merge(f.decode(docs), local)
	return records, true, pending, nil
}

func (f *Facade) refresh(ctx context.Context, gen uint64, principalID string) {
	records, remote, pending, err := f.load(ctx, principalID)
	if err != nil {
		f.log.Warn("failed to refresh records", "principal_id", principalID, "error", err)
		return
	}
	f.publishWithStatus(gen, records, remote && pending == 0)
}

func (f *Facade) publishLocal(ctx context.Context, gen uint64, principalID string) {
	local, err := localstore.LoadRecords(ctx, f.local, principalID)
	if err != nil {
		f.log.Warn("failed to read on-device fallback", "principal_id", principalID, "error", err)
		return
	}
	sortNewestFirst(local)
	f.publish(gen, local)
}

// onRemote runs on the store's feed goroutine.
func (f *Facade) onRemote(gen uint64, principalID string, docs []json.RawMessage, err error) {
	ctx := context.Background()
	if errors.Is(err, docstore.ErrPermissionDenied) {
		f.setStatus(model.SyncOffline)
		f.publishLocal(ctx, gen, principalID)
		return
	}
	if err != nil {
		f.log.Error("record feed failed", "principal_id", principalID, "error", err)
		f.setStatus(model.SyncError)
		return
	}

	local, err := localstore.LoadRecords(ctx, f.local, principalID)
	if err != nil {
		f.log.Warn("failed to read on-device fallback", "principal_id", principalID, "error", err)
		local = nil
	}
	records, pending := merge(f.decode(docs), local)
	f.publishWithStatus(gen, records, pending == 0)
}

// publishWithStatus reports connected when the remote answered and
// nothing is left only on the device, offline otherwise.
func (f *Facade) publishWithStatus(gen uint64, records []*model.Record, connected bool) {
	f.mu.Lock()
	current := gen == f.gen
	f.mu.Unlock()
	if !current {
		return
	}

	if connected {
		f.setStatus(model.SyncConnected)
	} else {
		f.setStatus(model.SyncOffline)
	}
	f.publish(gen, records)
}

func (f *Facade) publish(gen uint64, records []*model.Record) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.seq++
	snap := Snapshot{Seq: f.seq, PrincipalID: f.principalID, Records: records, Status: f.status}
	f.last = &snap
	subs := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.mailbox.Put(snap)
	}
	f.metrics.snapshot()
}

func (f *Facade) decode(docs []json.RawMessage) []*model.Record {
	records := make([]*model.Record, 0, len(docs))
	for _, d := range docs {
		r := &model.Record{}
		if err := json.Unmarshal(d, r); err != nil {
			f.log.Warn("skipping malformed record", "error", err)
			continue
		}
		records = append(records, r)
	}
	return records
}

func upsert(records []*model.Record, rec *model.Record) []*model.Record {
	for i, r := range records {
		if r.ID == rec.ID {
			records[i] = rec
			return records
		}
	}
	return append([]*model.Record{rec}, records...)
}

// merge appends the local records the remote set lacks and returns how
// many that were.
func merge(remote, local []*model.Record) ([]*model.Record, int) {
	if len(local) == 0 {
		return remote, 0
	}
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		seen[r.ID] = true
	}
	out := append([]*model.Record(nil), remote...)
	pending := 0
	for _, r := range local {
		if !seen[r.ID] {
			out = append(out, r)
			pending++
		}
	}
	if pending > 0 {
		sortNewestFirst(out)
	}
	return out, pending
}

func sortNewestFirst(records []*model.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
