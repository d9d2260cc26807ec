package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/tracker/internal/db"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := sqlx.Connect("sqlite", filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.RunMigrations(conn.DB, "sqlite"))
	return conn
}

func doc(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func titlesOf(t *testing.T, docs []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var v struct {
			Title string `json:"title"`
		}
		require.NoError(t, json.Unmarshal(d, &v))
		out = append(out, v.Title)
	}
	return out
}

func TestSQLStoreCRUD(t *testing.T) {
	store := NewSQLStore(newTestDB(t))
	ctx := WithCaller(context.Background(), "alice")
	col := CollectionPath("alice")

	err := store.Set(ctx, col, "r1", doc(t, map[string]any{"id": "r1", "title": "first", "tags": []string{"a"}}))
	require.NoError(t, err)

	got, err := store.Get(ctx, col, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","title":"first","tags":["a"]}`, string(got))

	err = store.Update(ctx, col, "r1", map[string]any{"title": "renamed", "tags": nil})
	require.NoError(t, err)

	got, err = store.Get(ctx, col, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","title":"renamed"}`, string(got))

	require.NoError(t, store.Delete(ctx, col, "r1"))
	_, err = store.Get(ctx, col, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreMissingDocuments(t *testing.T) {
	store := NewSQLStore(newTestDB(t))
	ctx := WithCaller(context.Background(), "alice")
	col := CollectionPath("alice")

	assert.ErrorIs(t, store.Update(ctx, col, "nope", map[string]any{"title": "x"}), ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, col, "nope"), ErrNotFound)
}

func TestSQLStoreQueryNewestFirst(t *testing.T) {
	store := NewSQLStore(newTestDB(t))
	ctx := WithCaller(context.Background(), "alice")
	col := CollectionPath("alice")
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	docs := []struct {
		id      string
		title   string
		created time.Time
	}{
		{"a", "old", base},
		{"b", "newest", base.Add(2 * time.Hour)},
		{"c", "middle", base.Add(time.Hour)},
	}
	for _, d := range docs {
		require.NoError(t, store.Set(ctx, col, d.id, doc(t, map[string]any{"title": d.title, "createdAt": d.created})))
	}

	got, err := store.Query(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "old"}, titlesOf(t, got))
}

func TestSQLStoreOwnerOnly(t *testing.T) {
	store := NewSQLStore(newTestDB(t))
	ctx := WithCaller(context.Background(), "alice")

	err := store.Set(ctx, CollectionPath("bob"), "x", doc(t, map[string]any{"title": "x"}))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = store.Query(context.Background(), CollectionPath("alice"))
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSQLStoreDenyAll(t *testing.T) {
	store := NewSQLStore(newTestDB(t), WithRules(DenyAll))
	ctx := WithCaller(context.Background(), "alice")
	col := CollectionPath("alice")

	err := store.Set(ctx, col, "x", doc(t, map[string]any{"title": "x"}))
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	_, err = store.Subscribe(ctx, col, func([]json.RawMessage, error) {})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	store.SetRules(OwnerOnly)
	assert.NoError(t, store.Set(ctx, col, "x", doc(t, map[string]any{"title": "x"})))
}

func TestSQLStoreSubscribe(t *testing.T) {
	store := NewSQLStore(newTestDB(t))
	ctx := WithCaller(context.Background(), "alice")
	col := CollectionPath("alice")

	snapshots := make(chan []string, 16)
	unsubscribe, err := store.Subscribe(ctx, col, func(docs []json.RawMessage, err error) {
		if !assert.NoError(t, err) {
			return
		}
		titles := make([]string, 0, len(docs))
		for _, d := range docs {
			var v struct {
				Title string `json:"title"`
			}
			if assert.NoError(t, json.Unmarshal(d, &v)) {
				titles = append(titles, v.Title)
			}
		}
		snapshots <- titles
	})
	require.NoError(t, err)

	select {
	case got := <-snapshots:
		assert.Empty(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, store.Set(ctx, col, "a", doc(t, map[string]any{"title": "a"})))

	require.Eventually(t, func() bool {
		select {
		case got := <-snapshots:
			return len(got) == 1 && got[0] == "a"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()

	require.NoError(t, store.Set(ctx, col, "b", doc(t, map[string]any{"title": "b"})))
	select {
	case got := <-snapshots:
		t.Fatalf("unexpected snapshot after unsubscribe: %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubListenCancel(t *testing.T) {
	hub := NewHub()
	calls := 0
	cancel := hub.Listen("c", func() { calls++ })

	require.NoError(t, hub.Publish(context.Background(), "c"))
	require.NoError(t, hub.Publish(context.Background(), "other"))
	cancel()
	cancel()
	require.NoError(t, hub.Publish(context.Background(), "c"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, hub.Listeners())
}

func TestChannelNames(t *testing.T) {
	ch := channelName(CollectionPath("alice"))
	assert.Equal(t, "docstore:users/alice/memos", ch)

	col, ok := collectionFromChannel(ch)
	assert.True(t, ok)
	assert.Equal(t, "users/alice/memos", col)

	_, ok = collectionFromChannel("other:thing")
	assert.False(t, ok)
}
