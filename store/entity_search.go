package store

import (
	"context"
	"fmt"

	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

// position is the sealed pagination state. It carries the sort values of
// the last hit plus the entity kind so a token minted by one listing
// cannot resume a different one.
type position struct {
	Kind string `json:"k"`
	Sort []any  `json:"s"`
}

// Page is one hydrated result page. Next is an opaque resumption token,
// empty when the listing is exhausted.
type Page[T any] struct {
	Items []T
	Next  string
}

// Search runs a query against the index, hydrates the hits from the
// primary store and seals the continuation point into an opaque token.
// Tokens are bound to the query's scope; presenting one under another
// scope, or a token minted for a different listing, reports
// cursor.ErrInvalidCursor.
func (s *EntityStore[T]) Search(ctx context.Context, q search.Query, token string) (Page[T], error) {
	q.Kind = s.desc.Kind

	if token != "" {
		raw, err := s.cursors.Decode(q.Scope, token)
		if err != nil {
			return Page[T]{}, err
		}
		var pos position
		if err := s.codec.Unmarshal(raw, &pos); err != nil {
			return Page[T]{}, cursor.ErrInvalidCursor
		}
		if pos.Kind != string(s.desc.Kind) {
			return Page[T]{}, cursor.ErrInvalidCursor
		}
		q.SearchAfter = pos.Sort
	}

	res, err := s.index.Search(ctx, q)
	if err != nil {
		return Page[T]{}, err
	}
	if len(res.Hits) == 0 {
		return Page[T]{}, nil
	}

	ids := make([]model.ID, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	items, err := s.BatchGet(ctx, q.Scope, ids)
	if err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{Items: items}
	if res.More {
		last := res.Hits[len(res.Hits)-1]
		raw, err := s.codec.Marshal(position{Kind: string(s.desc.Kind), Sort: last.Sort})
		if err != nil {
			return Page[T]{}, fmt.Errorf("store: seal cursor: %w", err)
		}
		page.Next, err = s.cursors.Encode(q.Scope, raw)
		if err != nil {
			return Page[T]{}, err
		}
	}
	return page, nil
}
