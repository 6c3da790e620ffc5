package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/rank"
	"github.com/sparkboardhq/sparkboard/search"
)

// CommentStore manages threaded comments on ideas, ranked by the Wilson
// lower bound of their vote tally. Vote changes adjust the indexed score
// in place through a script update instead of re-projecting the whole
// document; the scripted adjustment produces the same score as a full
// recomputation from the updated tally.
type CommentStore struct {
	*EntityStore[model.Comment]

	users *UserStore
	ideas *IdeaStore
	cfg   *config.Runtime
}

// NewCommentStore wires the comment entity family.
func NewCommentStore(store kv.Store, index search.Index, cursors *cursor.Codec, c codec.Codec, users *UserStore, ideas *IdeaStore, cfg *config.Runtime, logger *slog.Logger) *CommentStore {
	desc := Descriptor[model.Comment]{
		Kind:  model.KindComment,
		Scope: func(cm model.Comment) model.Scope { return cm.Scope },
		ID:    func(cm model.Comment) model.ID { return cm.ID },
		Project: func(cm model.Comment) search.Fields {
			positive, negative := cm.Tally()
			return search.Fields{
				"idea_id":     string(cm.IdeaID),
				"author_id":   string(cm.AuthorID),
				"parent_id":   string(cm.ParentID),
				"body":        cm.Body,
				"created_at":  cm.CreatedAt.UnixNano(),
				attrUpvotes:   cm.Upvotes,
				attrDownvotes: cm.Downvotes,
				"score":       rank.Score(cfg.Snapshot().ConfidenceLevel, positive, negative),
			}
		},
		Aggregates: []string{attrUpvotes, attrDownvotes},
		Overlay: func(cm *model.Comment, attrs kv.Attributes) {
			cm.Upvotes = attrs.Int(attrUpvotes)
			cm.Downvotes = attrs.Int(attrDownvotes)
		},
	}
	return &CommentStore{
		EntityStore: NewEntityStore(desc, store, index, cursors, c, logger),
		users:       users,
		ideas:       ideas,
		cfg:         cfg,
	}
}

// Post creates a new comment under an idea.
func (s *CommentStore) Post(ctx context.Context, cm model.Comment) (*Future, error) {
	return s.Create(ctx, cm)
}

// Vote records an up (+1) or down (-1) vote on a comment. Repeats by the
// same actor are no-ops returning the unchanged comment. The indexed
// score is adjusted incrementally via a script so the index never does a
// read-modify-write round trip through the caller.
func (s *CommentStore) Vote(ctx context.Context, scope model.Scope, actor, commentID model.ID, value int64) (model.Comment, *Future, error) {
	if value != 1 && value != -1 {
		return model.Comment{}, nil, fmt.Errorf("store: vote value must be +1 or -1, got %d", value)
	}

	fresh, err := s.ideas.guard(ctx, scope, actor, model.ActionVote, model.KindComment, commentID, value)
	if err != nil {
		return model.Comment{}, nil, err
	}
	if !fresh {
		cm, err := s.Get(ctx, scope, commentID)
		if err != nil {
			return model.Comment{}, nil, err
		}
		return cm, resolvedFuture(nil), nil
	}

	deltas := map[string]int64{}
	var dPos, dNeg int64
	if value > 0 {
		deltas[attrUpvotes] = 1
		dPos = 1
	} else {
		deltas[attrDownvotes] = 1
		dNeg = 1
	}
	attrs, err := s.Increment(ctx, scope, commentID, deltas)
	if err != nil {
		return model.Comment{}, nil, err
	}
	cm, err := s.decode(attrs)
	if err != nil {
		return model.Comment{}, nil, err
	}

	confidence := s.cfg.Snapshot().ConfidenceLevel
	f := s.UpdateScript(scope, commentID, func(fields search.Fields) {
		positive := fields.Int(attrUpvotes)
		negative := fields.Int(attrDownvotes)
		fields[attrUpvotes] = positive + dPos
		fields[attrDownvotes] = negative + dNeg
		fields["score"] = rank.ApplyDelta(confidence, positive, negative, dPos, dNeg)
	})
	return cm, f, nil
}

// ForIdea lists an idea's comments ranked best first.
func (s *CommentStore) ForIdea(ctx context.Context, scope model.Scope, ideaID model.ID, limit int, token string) (Page[model.Comment], error) {
	return s.Search(ctx, search.Query{
		Scope: scope,
		Terms: []search.Term{{Field: "idea_id", Value: string(ideaID)}},
		Sort:  []search.SortField{{Field: "score", Desc: true}},
		Limit: limit,
	}, token)
}
