// Package memindex is the in-memory search.Index implementation used by
// tests and local development.
//
// Documents are stored as flat field maps; exact-match and text postings
// are kept as roaring bitmaps over dense internal document ids, so boolean
// queries reduce to bitmap intersections before any per-document
// evaluation. Writes are visible as soon as they are applied regardless of
// the requested refresh policy.
package memindex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

type docEntry struct {
	scope  model.Scope
	kind   model.Kind
	id     model.ID
	fields search.Fields
	live   bool
}

// Index is an in-memory search index. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	docs     []docEntry
	byKey    map[string]uint32
	postings map[string]*roaring.Bitmap
}

// New creates an empty index.
func New() *Index {
	return &Index{
		byKey:    make(map[string]uint32),
		postings: make(map[string]*roaring.Bitmap),
	}
}

func docKey(scope model.Scope, kind model.Kind, id model.ID) string {
	return string(scope) + "|" + string(kind) + "|" + string(id)
}

func universeKey(scope model.Scope, kind model.Kind) string {
	return string(scope) + "|" + string(kind)
}

func termKey(scope model.Scope, kind model.Kind, field string, value any) string {
	return fmt.Sprintf("%s|%s|%s=%v", scope, kind, field, value)
}

func tokenKey(scope model.Scope, kind model.Kind, field, token string) string {
	return string(scope) + "|" + string(kind) + "|" + field + "~" + token
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Index upserts a document projection.
func (ix *Index) Index(ctx context.Context, doc search.Document, _ search.Refresh) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := docKey(doc.Scope, doc.Kind, doc.ID)
	if internal, ok := ix.byKey[key]; ok {
		ix.unpostLocked(internal)
		ix.docs[internal].fields = doc.Fields.Clone()
		ix.docs[internal].live = true
		ix.postLocked(internal)
		return nil
	}

	internal := uint32(len(ix.docs))
	ix.docs = append(ix.docs, docEntry{
		scope:  doc.Scope,
		kind:   doc.Kind,
		id:     doc.ID,
		fields: doc.Fields.Clone(),
		live:   true,
	})
	ix.byKey[key] = internal
	ix.postLocked(internal)
	return nil
}

// Update applies a partial field update to an existing document.
func (ix *Index) Update(ctx context.Context, scope model.Scope, kind model.Kind, id model.ID, partial search.Fields, _ search.Refresh) error {
	return ix.mutate(scope, kind, id, func(fields search.Fields) {
		for k, v := range partial {
			fields[k] = v
		}
	})
}

// UpdateWithScript runs a script atomically against a document's fields.
func (ix *Index) UpdateWithScript(ctx context.Context, scope model.Scope, kind model.Kind, id model.ID, script search.Script, _ search.Refresh) error {
	return ix.mutate(scope, kind, id, script)
}

func (ix *Index) mutate(scope model.Scope, kind model.Kind, id model.ID, apply func(search.Fields)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	internal, ok := ix.byKey[docKey(scope, kind, id)]
	if !ok {
		return search.ErrNotFound
	}

	ix.unpostLocked(internal)
	apply(ix.docs[internal].fields)
	ix.postLocked(internal)
	return nil
}

// Delete removes a document. Absent documents are a no-op.
func (ix *Index) Delete(ctx context.Context, scope model.Scope, kind model.Kind, id model.ID, _ search.Refresh) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := docKey(scope, kind, id)
	internal, ok := ix.byKey[key]
	if !ok {
		return nil
	}
	ix.unpostLocked(internal)
	ix.docs[internal].live = false
	delete(ix.byKey, key)
	return nil
}

// DeleteByScope removes every document of a scope.
func (ix *Index) DeleteByScope(ctx context.Context, scope model.Scope) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for internal := range ix.docs {
		doc := &ix.docs[internal]
		if doc.live && doc.scope == scope {
			ix.unpostLocked(uint32(internal))
			doc.live = false
			delete(ix.byKey, docKey(doc.scope, doc.kind, doc.id))
		}
	}
	return nil
}

// postLocked adds a document to the universe, term and token postings.
func (ix *Index) postLocked(internal uint32) {
	doc := &ix.docs[internal]
	ix.posting(universeKey(doc.scope, doc.kind)).Add(internal)

	for field, v := range doc.fields {
		switch val := v.(type) {
		case string:
			ix.posting(termKey(doc.scope, doc.kind, field, val)).Add(internal)
			for _, tok := range tokenize(val) {
				ix.posting(tokenKey(doc.scope, doc.kind, field, tok)).Add(internal)
			}
		case bool:
			ix.posting(termKey(doc.scope, doc.kind, field, val)).Add(internal)
		case []string:
			for _, elem := range val {
				ix.posting(termKey(doc.scope, doc.kind, field, elem)).Add(internal)
			}
		}
	}
}

func (ix *Index) unpostLocked(internal uint32) {
	doc := &ix.docs[internal]
	if bm, ok := ix.postings[universeKey(doc.scope, doc.kind)]; ok {
		bm.Remove(internal)
	}

	for field, v := range doc.fields {
		switch val := v.(type) {
		case string:
			ix.removePosting(termKey(doc.scope, doc.kind, field, val), internal)
			for _, tok := range tokenize(val) {
				ix.removePosting(tokenKey(doc.scope, doc.kind, field, tok), internal)
			}
		case bool:
			ix.removePosting(termKey(doc.scope, doc.kind, field, val), internal)
		case []string:
			for _, elem := range val {
				ix.removePosting(termKey(doc.scope, doc.kind, field, elem), internal)
			}
		}
	}
}

func (ix *Index) posting(key string) *roaring.Bitmap {
	bm, ok := ix.postings[key]
	if !ok {
		bm = roaring.New()
		ix.postings[key] = bm
	}
	return bm
}

func (ix *Index) removePosting(key string, internal uint32) {
	if bm, ok := ix.postings[key]; ok {
		bm.Remove(internal)
	}
}

var _ search.Index = (*Index)(nil)
