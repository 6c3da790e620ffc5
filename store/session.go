package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
)

// SessionStore manages login sessions. Sessions live only in the primary
// store; nothing about them is searchable, so there is no index
// projection. Sort keys are prefixed with the owning user so revoking a
// user enumerates its sessions with one range query.
type SessionStore struct {
	kv           kv.Store
	codec        codec.Codec
	logger       *slog.Logger
	retryLimiter *rate.Limiter
}

// NewSessionStore wires the session family.
func NewSessionStore(store kv.Store, c codec.Codec, logger *slog.Logger) *SessionStore {
	if c == nil {
		c = codec.Default
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SessionStore{
		kv:           store,
		codec:        c,
		logger:       logger.With("kind", "session"),
		retryLimiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
}

func (s *SessionStore) partition(scope model.Scope) string {
	return fmt.Sprintf("%s/%s", scope, model.KindSession)
}

func sessionSK(userID, sessionID model.ID) string {
	return fmt.Sprintf("%s#%s", userID, sessionID)
}

// Start creates a session. The key is conditional on absence so a replayed
// session identifier reports kv.ErrConflict.
func (s *SessionStore) Start(ctx context.Context, sess model.Session) error {
	blob, err := s.codec.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	return s.kv.Put(ctx, kv.Put{
		Key:        kv.Key{PK: s.partition(sess.Scope), SK: sessionSK(sess.UserID, sess.ID)},
		Attributes: kv.Attributes{attrData: blob},
		Condition:  kv.ConditionNotExists,
	})
}

// Get reads one session.
func (s *SessionStore) Get(ctx context.Context, scope model.Scope, userID, sessionID model.ID) (model.Session, error) {
	attrs, err := s.kv.Get(ctx, kv.Key{PK: s.partition(scope), SK: sessionSK(userID, sessionID)})
	if err != nil {
		return model.Session{}, err
	}
	var sess model.Session
	if err := s.codec.Unmarshal(attrs.Bytes(attrData), &sess); err != nil {
		return model.Session{}, fmt.Errorf("store: decode session: %w", err)
	}
	return sess, nil
}

// End deletes one session. Ending an absent session is a no-op.
func (s *SessionStore) End(ctx context.Context, scope model.Scope, userID, sessionID model.ID) error {
	return s.kv.Delete(ctx, kv.Key{PK: s.partition(scope), SK: sessionSK(userID, sessionID)})
}

// RevokeUser deletes every session belonging to the user. Enumeration is
// a sort-key prefix range query; deletion runs in bounded batches with
// the unprocessed subset retried under a budget, so re-running after a
// partial failure is safe.
func (s *SessionStore) RevokeUser(ctx context.Context, scope model.Scope, userID model.ID) (int, error) {
	pk := s.partition(scope)
	prefix := string(userID) + "#"

	var (
		deleted int
		startSK string
	)
	for {
		page, err := s.kv.Query(ctx, kv.Query{
			PK:               pk,
			SKPrefix:         prefix,
			Limit:            purgePageSize,
			ExclusiveStartSK: startSK,
		})
		if err != nil {
			return deleted, err
		}

		keys := make([]kv.Key, len(page.Items))
		for i, item := range page.Items {
			keys[i] = item.Key
		}
		if err := drainBatchDelete(ctx, s.kv, s.retryLimiter, keys); err != nil {
			return deleted, err
		}
		deleted += len(keys)

		if !page.More {
			break
		}
		startSK = page.LastSK
	}
	s.logger.Info("revoked sessions", "scope", string(scope), "user", string(userID), "count", deleted)
	return deleted, nil
}
