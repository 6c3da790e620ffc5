package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/rank"
	"github.com/sparkboardhq/sparkboard/search"
)

func (h *harness) postComment(t *testing.T, scope model.Scope, ideaID model.ID, body string) model.Comment {
	t.Helper()
	cm := model.Comment{
		Scope:     scope,
		ID:        model.NewID(),
		IdeaID:    ideaID,
		AuthorID:  "author",
		Body:      body,
		CreatedAt: time.Now(),
	}
	f, err := h.comments.Post(context.Background(), cm)
	require.NoError(t, err)
	await(t, f)
	return cm
}

func TestCommentVoteIdempotency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.registerUser(t, "acme", "alice")
	idea := h.submitIdea(t, "acme", alice.ID, "topic", time.Now())
	cm := h.postComment(t, "acme", idea.ID, "great point")

	got, f, err := h.comments.Vote(ctx, "acme", alice.ID, cm.ID, 1)
	require.NoError(t, err)
	await(t, f)
	assert.Equal(t, int64(1), got.Upvotes)

	got, f, err = h.comments.Vote(ctx, "acme", alice.ID, cm.ID, 1)
	require.NoError(t, err)
	await(t, f)
	assert.Equal(t, int64(1), got.Upvotes)
}

func TestCommentScriptScoreMatchesFullRecompute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.registerUser(t, "acme", "alice")
	bob := h.registerUser(t, "acme", "bob")
	idea := h.submitIdea(t, "acme", alice.ID, "topic", time.Now())
	cm := h.postComment(t, "acme", idea.ID, "scored")

	_, f, err := h.comments.Vote(ctx, "acme", alice.ID, cm.ID, 1)
	require.NoError(t, err)
	await(t, f)
	_, f, err = h.comments.Vote(ctx, "acme", bob.ID, cm.ID, -1)
	require.NoError(t, err)
	await(t, f)

	res, err := h.index.Search(ctx, search.Query{
		Scope: "acme",
		Kind:  model.KindComment,
		Sort:  []search.SortField{{Field: "score", Desc: true}},
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)

	indexed, ok := res.Hits[0].Sort[0].(float64)
	require.True(t, ok)
	want := rank.Score(h.cfg.Snapshot().ConfidenceLevel, 1, 1)
	assert.InDelta(t, want, indexed, 1e-12)
}

func TestCommentRankingOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	voters := []model.User{
		h.registerUser(t, "acme", "v1"),
		h.registerUser(t, "acme", "v2"),
	}
	idea := h.submitIdea(t, "acme", voters[0].ID, "topic", time.Now())

	strong := h.postComment(t, "acme", idea.ID, "strong")
	weak := h.postComment(t, "acme", idea.ID, "weak")

	for _, v := range voters {
		_, f, err := h.comments.Vote(ctx, "acme", v.ID, strong.ID, 1)
		require.NoError(t, err)
		await(t, f)
	}
	_, f, err := h.comments.Vote(ctx, "acme", voters[0].ID, weak.ID, 1)
	require.NoError(t, err)
	await(t, f)
	_, f, err = h.comments.Vote(ctx, "acme", voters[1].ID, weak.ID, -1)
	require.NoError(t, err)
	await(t, f)

	page, err := h.comments.ForIdea(ctx, "acme", idea.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "strong", page.Items[0].Body)
	assert.Equal(t, "weak", page.Items[1].Body)
}
