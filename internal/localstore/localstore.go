// Package localstore is the on-device fallback used when the document store
// refuses a request. Values are written whole, so a reader never sees a
// partially written array.
package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/templui/tracker/internal/model"
)

// RecordsKey is the fixed key the journal records live under.
const RecordsKey = "memos"

var (
	ErrNotFound    = errors.New("key not found")
	ErrInvalidName = errors.New("invalid namespace or key")
)

// Store is a namespaced key/value store.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
}

// FileStore keeps one file per key below dir/namespace.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fallback directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func (s *FileStore) path(namespace, key string) (string, error) {
	if !validName(namespace) || !validName(key) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, namespace, key+".json"), nil
}

func (s *FileStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	p, err := s.path(namespace, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", namespace, key, err)
	}
	return data, nil
}

func (s *FileStore) Put(_ context.Context, namespace, key string, value []byte) error {
	p, err := s.path(namespace, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(value)); err != nil {
		return fmt.Errorf("write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// MemoryStore is a Store without persistence.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[namespace+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *MemoryStore) Put(_ context.Context, namespace, key string, value []byte) error {
	if !validName(namespace) || !validName(key) {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace+"/"+key] = bytes.Clone(value)
	return nil
}

// LoadRecords returns the fallback records of a principal. A missing key
// yields an empty set.
func LoadRecords(ctx context.Context, s Store, principalID string) ([]*model.Record, error) {
	data, err := s.Get(ctx, principalID, RecordsKey)
	if errors.Is(err, ErrNotFound) {
		return []*model.Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []*model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode fallback records: %w", err)
	}
	if records == nil {
		records = []*model.Record{}
	}
	return records, nil
}

func SaveRecords(ctx context.Context, s Store, principalID string, records []*model.Record) error {
	if records == nil {
		records = []*model.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode fallback records: %w", err)
	}
	return s.Put(ctx, principalID, RecordsKey, data)
}
