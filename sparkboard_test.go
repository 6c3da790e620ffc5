package sparkboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkboardhq/sparkboard/archive"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/store"
)

func newTestEngine(t *testing.T, optFns ...Option) *Engine {
	t.Helper()
	e, err := New(append([]Option{
		WithCursorSecret([]byte("engine-test-secret")),
	}, optFns...)...)
	require.NoError(t, err)
	return e
}

func await(t *testing.T, f *store.Future) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
}

func TestEngineEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	alice := model.User{
		Scope: "acme", ID: model.NewID(), Handle: "alice",
		Email: "alice@example.com", CreatedAt: time.Now(),
	}
	f, err := e.Users.Register(ctx, alice)
	require.NoError(t, err)
	await(t, f)

	idea := model.Idea{
		Scope: "acme", ID: model.NewID(), AuthorID: alice.ID,
		Title: "bike racks", Status: "open", CreatedAt: time.Now(),
	}
	f, err = e.Ideas.Submit(ctx, idea)
	require.NoError(t, err)
	await(t, f)

	got, f, err := e.Ideas.Vote(ctx, "acme", alice.ID, idea.ID, 1)
	require.NoError(t, err)
	await(t, f)
	assert.Equal(t, int64(1), got.Votes)

	page, err := e.Ideas.Newest(ctx, "acme", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bike racks", page.Items[0].Title)
}

func TestEngineUsageDedupe(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, counted, err := e.RecordUsage(ctx, "acme", "api-calls", time.Hour, 42, "event-1")
	require.NoError(t, err)
	assert.True(t, counted)

	_, counted, err = e.RecordUsage(ctx, "acme", "api-calls", time.Hour, 42, "event-1")
	require.NoError(t, err)
	assert.False(t, counted)

	_, counted, err = e.RecordUsage(ctx, "acme", "api-calls", time.Hour, 42, "event-2")
	require.NoError(t, err)
	assert.True(t, counted)

	total, err := e.FetchUsage(ctx, "acme", "api-calls", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestEngineDestroyScopeRequiresArchive(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.DestroyScope(context.Background(), "acme")
	require.ErrorIs(t, err, ErrNoArchive)
}

func TestEngineDestroyAndRestoreScope(t *testing.T) {
	dest := archive.NewMemoryStore()
	primary := kv.NewMemoryStore()
	e := newTestEngine(t, WithStore(primary), WithArchive(dest, nil))
	ctx := context.Background()

	alice := model.User{
		Scope: "acme", ID: model.NewID(), Handle: "alice",
		Email: "alice@example.com", CreatedAt: time.Now(),
	}
	f, err := e.Users.Register(ctx, alice)
	require.NoError(t, err)
	await(t, f)

	idea := model.Idea{
		Scope: "acme", ID: model.NewID(), AuthorID: alice.ID,
		Title: "keep me", Status: "open", CreatedAt: time.Now(),
	}
	f, err = e.Ideas.Submit(ctx, idea)
	require.NoError(t, err)
	await(t, f)

	// Another scope that must survive the destroy.
	bob := model.User{
		Scope: "globex", ID: model.NewID(), Handle: "bob",
		Email: "bob@example.com", CreatedAt: time.Now(),
	}
	f, err = e.Users.Register(ctx, bob)
	require.NoError(t, err)
	await(t, f)

	deleted, err := e.DestroyScope(ctx, "acme")
	require.NoError(t, err)
	assert.Greater(t, deleted, 0)

	_, err = e.Users.Get(ctx, "acme", alice.ID)
	require.ErrorIs(t, err, kv.ErrNotFound)
	page, err := e.Ideas.Newest(ctx, "acme", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = e.Users.Get(ctx, "globex", bob.ID)
	require.NoError(t, err)

	// The export made before the destroy restores the primary records.
	blobs, err := dest.List(ctx, "acme/")
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	restored, err := e.RestoreScope(ctx, blobs[0])
	require.NoError(t, err)
	assert.Greater(t, restored, 0)

	got, err := e.Ideas.Get(ctx, "acme", idea.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Title)
}
