package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
)

func TestCreateConflictLeavesFirstUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := model.Idea{
		Scope: "acme", ID: "idea-1", Title: "original", Status: "open",
		CreatedAt: time.Now(),
	}
	f, err := h.ideas.Submit(ctx, first)
	require.NoError(t, err)
	await(t, f)

	dup := first
	dup.Title = "usurper"
	_, err = h.ideas.Submit(ctx, dup)
	require.ErrorIs(t, err, kv.ErrConflict)

	got, err := h.ideas.Get(ctx, "acme", "idea-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Title)
}

func TestSearchPaginationComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	titles := []string{"one", "two", "three", "four", "five"}
	for i, title := range titles {
		h.submitIdea(t, "acme", "author", title, base.Add(time.Duration(i)*time.Minute))
	}

	page1, err := h.ideas.Newest(ctx, "acme", 2, "")
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	assert.Equal(t, "five", page1.Items[0].Title)
	assert.Equal(t, "four", page1.Items[1].Title)
	require.NotEmpty(t, page1.Next)

	page2, err := h.ideas.Newest(ctx, "acme", 2, page1.Next)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.Equal(t, "three", page2.Items[0].Title)
	assert.Equal(t, "two", page2.Items[1].Title)
	require.NotEmpty(t, page2.Next)

	page3, err := h.ideas.Newest(ctx, "acme", 2, page2.Next)
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	assert.Equal(t, "one", page3.Items[0].Title)
	assert.Empty(t, page3.Next)
}

func TestSearchRejectsForeignCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		h.submitIdea(t, "acme", "author", "idea", base.Add(time.Duration(i)*time.Minute))
	}

	page, err := h.ideas.Newest(ctx, "acme", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Next)

	// Token minted for scope "acme" must not resume under another scope.
	_, err = h.ideas.Newest(ctx, "globex", 2, page.Next)
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)

	// Nor may an idea token resume a comment listing.
	_, err = h.comments.ForIdea(ctx, "acme", "idea-x", 2, page.Next)
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

func TestBatchGetPreservesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := h.submitIdea(t, "acme", "author", "a", base)
	b := h.submitIdea(t, "acme", "author", "b", base)
	c := h.submitIdea(t, "acme", "author", "c", base)

	got, err := h.ideas.BatchGet(ctx, "acme", []model.ID{c.ID, a.ID, "missing", b.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Title)
	assert.Equal(t, "a", got[1].Title)
	assert.Equal(t, "b", got[2].Title)
}

func TestPurgeRemovesFamily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]model.ID, 0, 3)
	for i := 0; i < 3; i++ {
		idea := h.submitIdea(t, "acme", "author", "doomed", base.Add(time.Duration(i)*time.Second))
		ids = append(ids, idea.ID)
	}
	other := h.submitIdea(t, "globex", "author", "survivor", base)

	deleted, f, err := h.ideas.Purge(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	await(t, f)

	for _, id := range ids {
		_, err := h.ideas.Get(ctx, "acme", id)
		require.ErrorIs(t, err, kv.ErrNotFound)
	}
	page, err := h.ideas.Newest(ctx, "acme", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	// Other scopes are untouched.
	_, err = h.ideas.Get(ctx, "globex", other.ID)
	require.NoError(t, err)

	// Purging an already-empty scope is a no-op.
	deleted, f, err = h.ideas.Purge(ctx, "acme")
	require.NoError(t, err)
	assert.Zero(t, deleted)
	await(t, f)
}
