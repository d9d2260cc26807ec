package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// SQLStore keeps documents in the documents table.
type SQLStore struct {
	db       *sqlx.DB
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger

	mu    sync.RWMutex
	rules Rules
}

type Option func(*SQLStore)

func WithRules(rules Rules) Option {
	return func(s *SQLStore) { s.rules = rules }
}

func WithNotifier(n Notifier) Option {
	return func(s *SQLStore) { s.notifier = n }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *SQLStore) { s.clock = c }
}

func NewSQLStore(db *sqlx.DB, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:       db,
		notifier: NewHub(),
		clock:    clockwork.NewRealClock(),
		rules:    OwnerOnly,
		logger:   slog.Default().With("component", "docstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRules swaps the access rules at runtime.
func (s *SQLStore) SetRules(rules Rules) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

func (s *SQLStore) check(ctx context.Context, collection string) error {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()
	if err := rules(Caller(ctx), collection); err != nil {
		return fmt.Errorf("%s: %w", collection, err)
	}
	return nil
}

func (s *SQLStore) publish(ctx context.Context, collection string) {
	if err := s.notifier.Publish(ctx, collection); err != nil {
		s.logger.Warn("failed to publish change", "collection", collection, "error", err)
	}
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := s.check(ctx, collection); err != nil {
		return nil, err
	}

	var data string
	query := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	err := s.db.GetContext(ctx, &data, query, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return json.RawMessage(data), nil
}

func (s *SQLStore) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := s.check(ctx, collection); err != nil {
		return err
	}
	if !json.Valid(data) {
		return errors.New("set document: invalid JSON")
	}

	now := s.clock.Now().UTC()
	query := `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = excluded.data, created_at = excluded.created_at, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, collection, id, string(data), createdAt(data, now), now)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}

	s.publish(ctx, collection)
	return nil
}

func (s *SQLStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := s.check(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.GetContext(ctx, &raw, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	doc := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	now := s.clock.Now().UTC()
	query := `UPDATE documents SET data = $1, created_at = $2, updated_at = $3 WHERE collection = $4 AND id = $5`
	_, err = tx.ExecContext(ctx, query, string(merged), createdAt(merged, now), now, collection, id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	s.publish(ctx, collection)
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.check(ctx, collection); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.publish(ctx, collection)
	return nil
}

func (s *SQLStore) Query(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if err := s.check(ctx, collection); err != nil {
		return nil, err
	}

	var rows []string
	query := `SELECT data FROM documents WHERE collection = $1 ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &rows, query, collection); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	docs := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		docs[i] = json.RawMessage(row)
	}
	return docs, nil
}

// Subscribe runs one goroutine per subscription. Change signals that pile
// up while a snapshot is being delivered collapse into a single re-query,
// so a slow consumer only ever sees the latest state.
func (s *SQLStore) Subscribe(ctx context.Context, collection string, fn func([]json.RawMessage, error)) (func(), error) {
	if err := s.check(ctx, collection); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	changed := make(chan struct{}, 1)
	changed <- struct{}{}

	stopListening := s.notifier.Listen(collection, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-changed:
			}

			docs, err := s.Query(subCtx, collection)
			if subCtx.Err() != nil {
				return
			}
			fn(docs, err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopListening()
			cancel()
		})
	}, nil
}

func createdAt(data []byte, fallback time.Time) time.Time {
	var doc struct {
		CreatedAt *time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.CreatedAt == nil {
		return fallback
	}
	return doc.CreatedAt.UTC()
}
