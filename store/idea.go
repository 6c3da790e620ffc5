package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/rank"
	"github.com/sparkboardhq/sparkboard/search"
)

const (
	attrFunded    = "funded"
	attrVotes     = "votes"
	attrReactions = "reactions"
	attrUpvotes   = "upvotes"
	attrDownvotes = "downvotes"

	attrActor     = "actor_id"
	attrTarget    = "target_id"
	attrAction    = "action"
	attrAmount    = "amount"
	attrCreatedAt = "created_at"
)

// IdeaStore manages idea records and the guarded community actions
// against them. Every action is gated twice: the actor's membership
// filter catches repeats cheaply, and a conditional engagement record is
// the durable backstop that survives filter loss. When either gate
// reports a repeat, the prior idea state is returned unchanged.
type IdeaStore struct {
	*EntityStore[model.Idea]

	users *UserStore
	cfg   *config.Runtime
}

// NewIdeaStore wires the idea entity family.
func NewIdeaStore(store kv.Store, index search.Index, cursors *cursor.Codec, c codec.Codec, users *UserStore, cfg *config.Runtime, logger *slog.Logger) *IdeaStore {
	desc := Descriptor[model.Idea]{
		Kind:  model.KindIdea,
		Scope: func(i model.Idea) model.Scope { return i.Scope },
		ID:    func(i model.Idea) model.ID { return i.ID },
		Project: func(i model.Idea) search.Fields {
			positive, negative := i.Tally()
			return search.Fields{
				"title":       i.Title,
				"body":        i.Body,
				"tags":        i.Tags,
				"status":      i.Status,
				"author_id":   string(i.AuthorID),
				"created_at":  i.CreatedAt.UnixNano(),
				attrFunded:    i.Funded,
				attrVotes:     i.Votes,
				attrReactions: i.Reactions,
				"score":       rank.Score(cfg.Snapshot().ConfidenceLevel, positive, negative),
			}
		},
		Aggregates: []string{attrFunded, attrVotes, attrReactions, attrUpvotes, attrDownvotes},
		Overlay: func(i *model.Idea, attrs kv.Attributes) {
			i.Funded = attrs.Int(attrFunded)
			i.Votes = attrs.Int(attrVotes)
			i.Reactions = attrs.Int(attrReactions)
			i.Upvotes = attrs.Int(attrUpvotes)
			i.Downvotes = attrs.Int(attrDownvotes)
		},
	}
	return &IdeaStore{
		EntityStore: NewEntityStore(desc, store, index, cursors, c, logger),
		users:       users,
		cfg:         cfg,
	}
}

// Submit creates a new idea.
func (s *IdeaStore) Submit(ctx context.Context, idea model.Idea) (*Future, error) {
	return s.Create(ctx, idea)
}

// Vote records an up (+1) or down (-1) vote on an idea. Repeat votes by
// the same actor are no-ops returning the unchanged idea.
func (s *IdeaStore) Vote(ctx context.Context, scope model.Scope, actor, ideaID model.ID, value int64) (model.Idea, *Future, error) {
	if value != 1 && value != -1 {
		return model.Idea{}, nil, fmt.Errorf("store: vote value must be +1 or -1, got %d", value)
	}

	fresh, err := s.guard(ctx, scope, actor, model.ActionVote, model.KindIdea, ideaID, value)
	if err != nil {
		return model.Idea{}, nil, err
	}
	if !fresh {
		return s.unchanged(ctx, scope, ideaID)
	}

	deltas := map[string]int64{attrVotes: value}
	if value > 0 {
		deltas[attrUpvotes] = 1
	} else {
		deltas[attrDownvotes] = 1
	}
	idea, err := s.apply(ctx, scope, ideaID, deltas)
	if err != nil {
		return model.Idea{}, nil, err
	}

	// Score is always recomputed in full from the authoritative tally.
	positive, negative := idea.Tally()
	score := rank.Score(s.cfg.Snapshot().ConfidenceLevel, positive, negative)
	f := s.UpdatePartial(scope, ideaID, search.Fields{
		attrVotes:     idea.Votes,
		attrUpvotes:   idea.Upvotes,
		attrDownvotes: idea.Downvotes,
		"score":       score,
	})
	return idea, f, nil
}

// Fund moves the amount from the actor's balance onto the idea. The
// balance debit happens on the primary store before any aggregate
// changes; a repeat fund by the same actor is a no-op.
func (s *IdeaStore) Fund(ctx context.Context, scope model.Scope, actor, ideaID model.ID, amount int64) (model.Idea, *Future, error) {
	if amount <= 0 {
		return model.Idea{}, nil, fmt.Errorf("store: fund amount must be positive, got %d", amount)
	}

	fresh, err := s.guard(ctx, scope, actor, model.ActionFund, model.KindIdea, ideaID, amount)
	if err != nil {
		return model.Idea{}, nil, err
	}
	if !fresh {
		return s.unchanged(ctx, scope, ideaID)
	}

	if _, err := s.users.Credit(ctx, scope, actor, -amount); err != nil {
		return model.Idea{}, nil, err
	}

	idea, err := s.apply(ctx, scope, ideaID, map[string]int64{attrFunded: amount})
	if err != nil {
		return model.Idea{}, nil, err
	}
	f := s.UpdatePartial(scope, ideaID, search.Fields{attrFunded: idea.Funded})
	return idea, f, nil
}

// Express records a reaction on an idea. Repeats are no-ops.
func (s *IdeaStore) Express(ctx context.Context, scope model.Scope, actor, ideaID model.ID) (model.Idea, *Future, error) {
	fresh, err := s.guard(ctx, scope, actor, model.ActionExpress, model.KindIdea, ideaID, 1)
	if err != nil {
		return model.Idea{}, nil, err
	}
	if !fresh {
		return s.unchanged(ctx, scope, ideaID)
	}

	idea, err := s.apply(ctx, scope, ideaID, map[string]int64{attrReactions: 1})
	if err != nil {
		return model.Idea{}, nil, err
	}
	f := s.UpdatePartial(scope, ideaID, search.Fields{attrReactions: idea.Reactions})
	return idea, f, nil
}

// Top lists ideas ranked by (funded, votes, reactions) descending.
func (s *IdeaStore) Top(ctx context.Context, scope model.Scope, limit int, token string) (Page[model.Idea], error) {
	return s.Search(ctx, search.Query{
		Scope: scope,
		Sort: []search.SortField{
			{Field: attrFunded, Desc: true},
			{Field: attrVotes, Desc: true},
			{Field: attrReactions, Desc: true},
		},
		Limit: limit,
	}, token)
}

// Newest lists ideas by creation time descending.
func (s *IdeaStore) Newest(ctx context.Context, scope model.Scope, limit int, token string) (Page[model.Idea], error) {
	return s.Search(ctx, search.Query{
		Scope: scope,
		Sort:  []search.SortField{{Field: "created_at", Desc: true}},
		Limit: limit,
	}, token)
}

// Match lists ideas whose title or body matches the given text, newest
// first.
func (s *IdeaStore) Match(ctx context.Context, scope model.Scope, text string, limit int, token string) (Page[model.Idea], error) {
	return s.Search(ctx, search.Query{
		Scope:     scope,
		MatchText: map[string]string{"title": text, "body": text},
		Sort:      []search.SortField{{Field: "created_at", Desc: true}},
		Limit:     limit,
	}, token)
}

// guard runs both idempotency gates for one (actor, action, target)
// triple. The target is validated first so an action against a missing
// target leaves no guard state behind; the membership filter check then
// precedes every mutation, and the engagement record's not-exists
// condition is the durable backstop.
func (s *IdeaStore) guard(ctx context.Context, scope model.Scope, actor model.ID, action model.ActionClass, targetKind model.Kind, target model.ID, amount int64) (bool, error) {
	targetKey := kv.Key{
		PK: fmt.Sprintf("%s/%s", scope, targetKind),
		SK: string(target),
	}
	if _, err := s.kv.Get(ctx, targetKey); err != nil {
		return false, err
	}

	fresh, err := s.users.GuardAction(ctx, scope, actor, action, target)
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}

	err = s.kv.Put(ctx, kv.Put{
		Key: kv.Key{
			PK: fmt.Sprintf("%s/%s", scope, model.KindEngagement),
			SK: string(model.EngagementID(actor, action, target)),
		},
		Attributes: kv.Attributes{
			attrActor:     string(actor),
			attrTarget:    string(target),
			attrAction:    string(action),
			attrAmount:    amount,
			attrCreatedAt: time.Now().UnixNano(),
		},
		Condition: kv.ConditionNotExists,
	})
	if errors.Is(err, kv.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *IdeaStore) apply(ctx context.Context, scope model.Scope, id model.ID, deltas map[string]int64) (model.Idea, error) {
	attrs, err := s.Increment(ctx, scope, id, deltas)
	if err != nil {
		return model.Idea{}, err
	}
	return s.decode(attrs)
}

func (s *IdeaStore) unchanged(ctx context.Context, scope model.Scope, id model.ID) (model.Idea, *Future, error) {
	idea, err := s.Get(ctx, scope, id)
	if err != nil {
		return model.Idea{}, nil, err
	}
	return idea, resolvedFuture(nil), nil
}
