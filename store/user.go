package store

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/sparkboardhq/sparkboard/bloom"
	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

const (
	attrBalance = "balance"
	attrUserID  = "user_id"
)

func filterAttr(action model.ActionClass) string {
	return "filter_" + string(action)
}

var actionClasses = []model.ActionClass{model.ActionVote, model.ActionFund, model.ActionExpress}

// UserStore manages user records, their unique handle/email lookups and
// the per-user membership filters that gate idempotent actions.
type UserStore struct {
	*EntityStore[model.User]

	cfg    *config.Runtime
	logger *slog.Logger

	// flights collapses concurrent loads of the same user's filter so a
	// burst of actions does not stampede the primary store.
	flights singleflight.Group
}

// NewUserStore wires the user entity family.
func NewUserStore(store kv.Store, index search.Index, cursors *cursor.Codec, c codec.Codec, cfg *config.Runtime, logger *slog.Logger) *UserStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	desc := Descriptor[model.User]{
		Kind:  model.KindUser,
		Scope: func(u model.User) model.Scope { return u.Scope },
		ID:    func(u model.User) model.ID { return u.ID },
		Project: func(u model.User) search.Fields {
			return search.Fields{
				"handle":       u.Handle,
				"display_name": u.DisplayName,
				"created_at":   u.CreatedAt.UnixNano(),
			}
		},
		Aggregates: []string{attrBalance},
		Overlay: func(u *model.User, attrs kv.Attributes) {
			u.Balance = attrs.Int(attrBalance)
			for _, action := range actionClasses {
				if b := attrs.Bytes(filterAttr(action)); len(b) > 0 {
					if u.Filters == nil {
						u.Filters = make(map[model.ActionClass][]byte)
					}
					u.Filters[action] = b
				}
			}
		},
	}
	return &UserStore{
		EntityStore: NewEntityStore(desc, store, index, cursors, c, logger),
		cfg:         cfg,
		logger:      logger.With("kind", "user"),
	}
}

func (s *UserStore) handlePartition(scope model.Scope) string {
	return fmt.Sprintf("%s/user-by-handle", scope)
}

func (s *UserStore) emailPartition(scope model.Scope) string {
	return fmt.Sprintf("%s/user-by-email", scope)
}

// Register creates a user together with its handle and email lookup
// records in one all-or-nothing transaction. A taken handle or email
// surfaces as kv.ErrConflict with no partial state.
func (s *UserStore) Register(ctx context.Context, u model.User) (*Future, error) {
	secondary := []kv.Put{
		{
			Key:        kv.Key{PK: s.handlePartition(u.Scope), SK: u.Handle},
			Attributes: kv.Attributes{attrUserID: string(u.ID)},
			Condition:  kv.ConditionNotExists,
		},
		{
			Key:        kv.Key{PK: s.emailPartition(u.Scope), SK: u.Email},
			Attributes: kv.Attributes{attrUserID: string(u.ID)},
			Condition:  kv.ConditionNotExists,
		},
	}
	return s.CreateTx(ctx, u, secondary)
}

// GetByHandle resolves a handle through its lookup record and hydrates the
// user from the primary store.
func (s *UserStore) GetByHandle(ctx context.Context, scope model.Scope, handle string) (model.User, error) {
	attrs, err := s.kv.Get(ctx, kv.Key{PK: s.handlePartition(scope), SK: handle})
	if err != nil {
		return model.User{}, err
	}
	return s.Get(ctx, scope, model.ID(attrs.String(attrUserID)))
}

// Credit atomically adjusts a user's balance. Negative amounts debit.
func (s *UserStore) Credit(ctx context.Context, scope model.Scope, id model.ID, amount int64) (int64, error) {
	attrs, err := s.Increment(ctx, scope, id, map[string]int64{attrBalance: amount})
	if err != nil {
		return 0, err
	}
	return attrs.Int(attrBalance), nil
}

// GuardAction records that the actor has acted on the target for the
// given action class. It returns true exactly when the action is new;
// callers must skip every mutation side effect on false. The check runs
// before any aggregate mutation. A filter false positive drops the action
// silently, which is acceptable because the guarded actions are
// idempotent by nature.
func (s *UserStore) GuardAction(ctx context.Context, scope model.Scope, actor model.ID, action model.ActionClass, target model.ID) (bool, error) {
	f, err := s.loadFilter(ctx, scope, actor, action)
	if err != nil {
		return false, err
	}

	if !f.Add(string(target)) {
		return false, nil
	}

	cfg := s.cfg.Snapshot()
	if fpr := f.EstimatedFalsePositiveRate(); fpr > cfg.FilterFPR*10 {
		s.logger.Warn("membership filter drifting past capacity",
			"actor", string(actor), "action", string(action), "estimated_fpr", fpr)
	}

	_, err = s.kv.Update(ctx, kv.Update{
		Key:       s.key(scope, actor),
		Set:       kv.Attributes{filterAttr(action): f.Marshal()},
		Condition: kv.ConditionExists,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *UserStore) loadFilter(ctx context.Context, scope model.Scope, actor model.ID, action model.ActionClass) (*bloom.Filter, error) {
	key := fmt.Sprintf("%s|%s|%s", scope, actor, action)
	v, err, _ := s.flights.Do(key, func() (any, error) {
		attrs, err := s.kv.Get(ctx, s.key(scope, actor))
		if err != nil {
			return nil, err
		}
		raw := attrs.Bytes(filterAttr(action))
		if len(raw) == 0 {
			cfg := s.cfg.Snapshot()
			return bloom.New(cfg.FilterInsertions, cfg.FilterFPR), nil
		}
		return bloom.Unmarshal(raw)
	})
	if err != nil {
		return nil, err
	}
	return v.(*bloom.Filter), nil
}
