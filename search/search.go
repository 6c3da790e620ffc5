// Package search defines the derived document index: the eventually
// consistent projection the primary store fans out to for filtering,
// sorting and ranking.
//
// Index documents are write-only projections. Only correctness-insensitive
// fields live here — anything security- or money-relevant is re-read from
// the primary store during hydration. Queries return entity identifiers and
// sort values; they never return authoritative state.
package search

import (
	"context"
	"errors"

	"github.com/sparkboardhq/sparkboard/model"
)

// ErrNotFound is returned when an update or delete targets a document that
// is not in the index.
var ErrNotFound = errors.New("search: document not found")

// Fields is one document's indexed fields. Supported value types: string,
// []string, int64, float64, bool.
type Fields map[string]any

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Int returns the named field as an int64.
func (f Fields) Int(name string) int64 {
	switch v := f[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float returns the named field as a float64.
func (f Fields) Float(name string) float64 {
	switch v := f[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Document is an indexed projection of one entity.
type Document struct {
	Scope  model.Scope
	Kind   model.Kind
	ID     model.ID
	Fields Fields
}

// Refresh selects when a write becomes visible to queries.
type Refresh int

const (
	// RefreshEventual lets the index make the write visible on its own
	// schedule. The normal request path uses this.
	RefreshEventual Refresh = iota
	// RefreshImmediate forces visibility before the call returns. Tests
	// and admin flows use this.
	RefreshImmediate
)

// Script mutates a document's fields in place. Scripts run atomically with
// respect to other writers of the same document; the index applies them
// without a read-modify-write round trip through the caller.
type Script func(Fields)

// Term filters on exact field equality.
type Term struct {
	Field string
	Value any
}

// Range filters on numeric bounds. Nil bounds are open.
type Range struct {
	Field string
	GTE   *float64
	LTE   *float64
}

// SortField orders results by one field.
type SortField struct {
	Field string
	Desc  bool
}

// Query selects and orders documents within one scope and kind.
type Query struct {
	Scope model.Scope
	Kind  model.Kind

	// Terms must all match (boolean AND).
	Terms []Term
	// Ranges must all match.
	Ranges []Range
	// MatchText matches documents containing every token of the query
	// string in at least one of the named fields.
	MatchText map[string]string

	// Sort orders results; ties always break on document ID ascending so
	// pagination is stable across repeated queries.
	Sort []SortField

	// Limit bounds the page size.
	Limit int
	// SearchAfter resumes after the given sort values (the Sort values of
	// the last hit of the previous page, ID included last).
	SearchAfter []any
}

// Hit is one query result: an identifier plus the sort values to resume
// after it.
type Hit struct {
	ID   model.ID
	Sort []any
}

// Result is one page of hits. More reports whether matching documents
// remain past this page; callers mint a continuation cursor only then.
type Result struct {
	Hits  []Hit
	Total int64
	More  bool
}

// Index is the search index interface. Implementations must be safe for
// concurrent use.
type Index interface {
	// Index upserts a document projection.
	Index(ctx context.Context, doc Document, refresh Refresh) error

	// Update applies a partial field update to an existing document.
	Update(ctx context.Context, scope model.Scope, kind model.Kind, id model.ID, partial Fields, refresh Refresh) error

	// UpdateWithScript runs a script against an existing document's
	// fields, atomically. Used to apply ranking deltas in place.
	UpdateWithScript(ctx context.Context, scope model.Scope, kind model.Kind, id model.ID, script Script, refresh Refresh) error

	// Delete removes a document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, scope model.Scope, kind model.Kind, id model.ID, refresh Refresh) error

	// Search runs a query and returns a page of identifiers.
	Search(ctx context.Context, q Query) (Result, error)

	// DeleteByScope removes every document of a scope. Administrative
	// cleanup only.
	DeleteByScope(ctx context.Context, scope model.Scope) error
}
