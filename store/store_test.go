package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search/memindex"
)

type harness struct {
	kv       *kv.MemoryStore
	index    *memindex.Index
	cursors  *cursor.Codec
	cfg      *config.Runtime
	accounts *AccountStore
	users    *UserStore
	ideas    *IdeaStore
	comments *CommentStore
	sessions *SessionStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cursors, err := cursor.NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	store := kv.NewMemoryStore()
	index := memindex.New()
	cfg := config.New()

	sessions := NewSessionStore(store, nil, nil)
	users := NewUserStore(store, index, cursors, nil, cfg, nil)
	ideas := NewIdeaStore(store, index, cursors, nil, users, cfg, nil)
	return &harness{
		kv:       store,
		index:    index,
		cursors:  cursors,
		cfg:      cfg,
		accounts: NewAccountStore(store, index, cursors, nil, sessions, nil),
		users:    users,
		ideas:    ideas,
		comments: NewCommentStore(store, index, cursors, nil, users, ideas, cfg, nil),
		sessions: sessions,
	}
}

func await(t *testing.T, f *Future) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
}

func (h *harness) registerUser(t *testing.T, scope model.Scope, handle string) model.User {
	t.Helper()
	u := model.User{
		Scope:     scope,
		ID:        model.NewID(),
		Handle:    handle,
		Email:     handle + "@example.com",
		CreatedAt: time.Now(),
	}
	f, err := h.users.Register(context.Background(), u)
	require.NoError(t, err)
	await(t, f)
	return u
}

// kvUpdateClearFilter wipes a user's persisted vote filter, simulating
// filter loss with the durable engagement records intact.
func kvUpdateClearFilter(scope model.Scope, actor model.ID) kv.Update {
	return kv.Update{
		Key: kv.Key{PK: string(scope) + "/user", SK: string(actor)},
		Set: kv.Attributes{"filter_vote": []byte(nil)},
	}
}

func (h *harness) submitIdea(t *testing.T, scope model.Scope, author model.ID, title string, createdAt time.Time) model.Idea {
	t.Helper()
	idea := model.Idea{
		Scope:     scope,
		ID:        model.NewID(),
		AuthorID:  author,
		Title:     title,
		Status:    "open",
		CreatedAt: createdAt,
	}
	f, err := h.ideas.Submit(context.Background(), idea)
	require.NoError(t, err)
	await(t, f)
	return idea
}
