package store

import (
	"context"
	"errors"

	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

// indexAsync issues a full-document index write in the background. The
// caller's primary write has already committed by the time this runs, so
// a failed projection is logged and surfaced on the Future but never
// rolls anything back.
func (s *EntityStore[T]) indexAsync(entity T) *Future {
	doc := search.Document{
		Scope:  s.desc.Scope(entity),
		Kind:   s.desc.Kind,
		ID:     s.desc.ID(entity),
		Fields: s.desc.Project(entity),
	}

	f := newFuture()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		err := s.index.Index(ctx, doc, search.RefreshEventual)
		if err != nil {
			s.logger.Error("index write failed", "id", string(doc.ID), "error", err)
		}
		f.resolve(err)
	}()
	return f
}

// UpdatePartial asynchronously merges the given fields into an existing
// index document, leaving other projected fields intact.
func (s *EntityStore[T]) UpdatePartial(scope model.Scope, id model.ID, fields search.Fields) *Future {
	f := newFuture()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		err := s.index.Update(ctx, scope, s.desc.Kind, id, fields, search.RefreshEventual)
		if err != nil {
			s.logger.Error("index update failed", "id", string(id), "error", err)
		}
		f.resolve(err)
	}()
	return f
}

// UpdateScript asynchronously applies an in-place mutation to an existing
// index document. Used for incremental adjustments where the caller does
// not hold the full entity.
func (s *EntityStore[T]) UpdateScript(scope model.Scope, id model.ID, script search.Script) *Future {
	f := newFuture()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		err := s.index.UpdateWithScript(ctx, scope, s.desc.Kind, id, script, search.RefreshEventual)
		if err != nil {
			s.logger.Error("index script failed", "id", string(id), "error", err)
		}
		f.resolve(err)
	}()
	return f
}

func (s *EntityStore[T]) deleteIndexAsync(scope model.Scope, id model.ID) *Future {
	f := newFuture()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		err := s.index.Delete(ctx, scope, s.desc.Kind, id, search.RefreshEventual)
		if err != nil && !errors.Is(err, search.ErrNotFound) {
			s.logger.Error("index delete failed", "id", string(id), "error", err)
			f.resolve(err)
			return
		}
		f.resolve(nil)
	}()
	return f
}
