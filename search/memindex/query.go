package memindex

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/sparkboardhq/sparkboard/search"
)

const defaultLimit = 20

// Search runs a query: bitmap intersection for term and token filters,
// per-document evaluation for ranges, then ordering with a document-id
// tie-break and search-after resumption.
func (ix *Index) Search(ctx context.Context, q search.Query) (search.Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	universe, ok := ix.postings[universeKey(q.Scope, q.Kind)]
	if !ok || universe.IsEmpty() {
		return search.Result{}, nil
	}

	candidates := universe.Clone()
	for _, term := range q.Terms {
		bm, ok := ix.postings[termKey(q.Scope, q.Kind, term.Field, term.Value)]
		if !ok {
			return search.Result{}, nil
		}
		candidates.And(bm)
	}

	if len(q.MatchText) > 0 {
		fields := make([]string, 0, len(q.MatchText))
		seen := make(map[string]struct{})
		var tokens []string
		for field, text := range q.MatchText {
			fields = append(fields, field)
			for _, tok := range tokenize(text) {
				if _, dup := seen[tok]; !dup {
					seen[tok] = struct{}{}
					tokens = append(tokens, tok)
				}
			}
		}

		// Every token must appear in at least one of the named fields.
		for _, tok := range tokens {
			union := roaring.New()
			for _, field := range fields {
				if bm, ok := ix.postings[tokenKey(q.Scope, q.Kind, field, tok)]; ok {
					union.Or(bm)
				}
			}
			if union.IsEmpty() {
				return search.Result{}, nil
			}
			candidates.And(union)
		}
	}

	if candidates.IsEmpty() {
		return search.Result{}, nil
	}

	matched := ix.applyRanges(candidates, q.Ranges)

	// Order by the sort tuple, always breaking ties on document ID so
	// repeated queries over an unchanged dataset paginate stably.
	sort.Slice(matched, func(i, j int) bool {
		return ix.less(matched[i], matched[j], q.Sort)
	})

	result := search.Result{Total: int64(len(matched))}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	for _, internal := range matched {
		if len(q.SearchAfter) > 0 && !ix.afterPosition(internal, q.Sort, q.SearchAfter) {
			continue
		}
		if len(result.Hits) == limit {
			// At least one eligible document remains past this page.
			result.More = true
			break
		}
		doc := &ix.docs[internal]
		result.Hits = append(result.Hits, search.Hit{
			ID:   doc.id,
			Sort: ix.sortValues(internal, q.Sort),
		})
	}
	return result, nil
}

func (ix *Index) applyRanges(candidates *roaring.Bitmap, ranges []search.Range) []uint32 {
	matched := make([]uint32, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		internal := it.Next()
		fields := ix.docs[internal].fields

		ok := true
		for _, r := range ranges {
			v := fields.Float(r.Field)
			if r.GTE != nil && v < *r.GTE {
				ok = false
				break
			}
			if r.LTE != nil && v > *r.LTE {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, internal)
		}
	}
	return matched
}

// sortValues returns the sort tuple for a document, with the document ID
// appended as the final tie-break component.
func (ix *Index) sortValues(internal uint32, fields []search.SortField) []any {
	doc := &ix.docs[internal]
	values := make([]any, 0, len(fields)+1)
	for _, sf := range fields {
		values = append(values, doc.fields[sf.Field])
	}
	return append(values, string(doc.id))
}

func (ix *Index) less(a, b uint32, fields []search.SortField) bool {
	fa, fb := ix.docs[a].fields, ix.docs[b].fields
	for _, sf := range fields {
		cmp := compareValues(fa[sf.Field], fb[sf.Field])
		if cmp == 0 {
			continue
		}
		if sf.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return ix.docs[a].id < ix.docs[b].id
}

// afterPosition reports whether the document sorts strictly after the
// search-after position.
func (ix *Index) afterPosition(internal uint32, fields []search.SortField, after []any) bool {
	doc := &ix.docs[internal]
	for i, sf := range fields {
		if i >= len(after) {
			break
		}
		cmp := compareValues(doc.fields[sf.Field], after[i])
		if cmp == 0 {
			continue
		}
		if sf.Desc {
			return cmp < 0
		}
		return cmp > 0
	}
	// Sort tuple equal: fall to the ID tie-break.
	if len(after) > len(fields) {
		if afterID, ok := after[len(fields)].(string); ok {
			return string(doc.id) > afterID
		}
	}
	return false
}

// compareValues orders two field values of the same logical type.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, _ := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	default:
		af := toFloat(a)
		bf := toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case float64:
		return val
	}
	return 0
}
