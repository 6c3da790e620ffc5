package store

import (
	"context"
	"log/slog"

	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

// AccountStore manages billing/tenancy roots. Revoking an account
// cascades into its owner's sessions.
type AccountStore struct {
	*EntityStore[model.Account]

	sessions *SessionStore
}

// NewAccountStore wires the account entity family.
func NewAccountStore(store kv.Store, index search.Index, cursors *cursor.Codec, c codec.Codec, sessions *SessionStore, logger *slog.Logger) *AccountStore {
	desc := Descriptor[model.Account]{
		Kind:  model.KindAccount,
		Scope: func(a model.Account) model.Scope { return a.Scope },
		ID:    func(a model.Account) model.ID { return a.ID },
		Project: func(a model.Account) search.Fields {
			return search.Fields{
				"name":       a.Name,
				"plan":       a.Plan,
				"suspended":  a.Suspended,
				"created_at": a.CreatedAt.UnixNano(),
			}
		},
	}
	return &AccountStore{
		EntityStore: NewEntityStore(desc, store, index, cursors, c, logger),
		sessions:    sessions,
	}
}

// Open creates a new account.
func (s *AccountStore) Open(ctx context.Context, a model.Account) (*Future, error) {
	return s.Create(ctx, a)
}

// Suspend marks an account suspended without touching its data.
func (s *AccountStore) Suspend(ctx context.Context, scope model.Scope, id model.ID) (*Future, error) {
	a, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	a.Suspended = true
	return s.Update(ctx, a)
}

// Revoke suspends the account and cascade-deletes every session of its
// owner. The suspension commits first so a partial cascade never leaves
// an active account with dangling state; re-running the revocation is
// safe.
func (s *AccountStore) Revoke(ctx context.Context, scope model.Scope, id model.ID) (int, *Future, error) {
	a, err := s.Get(ctx, scope, id)
	if err != nil {
		return 0, nil, err
	}
	if !a.Suspended {
		a.Suspended = true
		if _, err := s.Update(ctx, a); err != nil {
			return 0, nil, err
		}
	}

	deleted, err := s.sessions.RevokeUser(ctx, scope, a.OwnerID)
	if err != nil {
		return deleted, nil, err
	}

	f, err := s.Delete(ctx, scope, id)
	if err != nil {
		return deleted, nil, err
	}
	return deleted, f, nil
}
