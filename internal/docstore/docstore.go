// Package docstore is the remote document store the journal writes to.
// Documents are JSON objects grouped in collections; every call is checked
// against access rules for the calling principal.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("document not found")
)

// MemoCollection is the per-principal collection holding journal records.
const MemoCollection = "memos"

// CollectionPath returns users/{principal}/memos.
func CollectionPath(principalID string) string {
	return "users/" + principalID + "/" + MemoCollection
}

// Store is the document store contract. All operations may fail with
// ErrPermissionDenied, distinguishable via errors.Is.
type Store interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, data json.RawMessage) error
	// Update merges fields into an existing document. A nil value removes
	// the field.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// Query returns all documents of a collection, newest created first.
	Query(ctx context.Context, collection string) ([]json.RawMessage, error)
	// Subscribe delivers the full ordered collection now and after every
	// change. The returned func cancels the subscription and may be
	// called any number of times.
	Subscribe(ctx context.Context, collection string, fn func([]json.RawMessage, error)) (func(), error)
}

type callerKey struct{}

// WithCaller attaches the calling principal to ctx.
func WithCaller(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, callerKey{}, principalID)
}

// Caller returns the principal attached by WithCaller.
func Caller(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// Rules decides whether caller may access collection.
type Rules func(caller, collection string) error

// OwnerOnly allows a principal to touch only collections below users/{caller}/.
func OwnerOnly(caller, collection string) error {
	if caller == "" {
		return ErrPermissionDenied
	}
	if !strings.HasPrefix(collection, "users/"+caller+"/") {
		return ErrPermissionDenied
	}
	return nil
}

// DenyAll rejects every request. Used when the store's rules are locked down.
func DenyAll(string, string) error {
	return ErrPermissionDenied
}
