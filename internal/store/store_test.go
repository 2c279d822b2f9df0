package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tootrank/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogInteraction_RejectsInvalidRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.LogInteraction(ctx, types.InteractionRecord{Action: types.ActionLike, Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrMissingID)

	err = s.LogInteraction(ctx, types.InteractionRecord{ID: "a", Action: "boost", Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestRecentInteractions_FiltersAndOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	records := []types.InteractionRecord{
		{ID: "old", Action: types.ActionLike, Timestamp: now.Add(-40 * 24 * time.Hour), AuthorAccountID: "a1"},
		{ID: "mid", Action: types.ActionComment, Timestamp: now.Add(-2 * time.Hour), AuthorAccountID: "a1", Tags: []string{"go", "sqlite"}},
		{ID: "new", Action: types.ActionTimeSpent, Timestamp: now.Add(-time.Minute), PostID: "p1", ViewDuration: 1500 * time.Millisecond},
		{ID: "link", Action: types.ActionLinkOpen, Timestamp: now.Add(-time.Hour), LinkURL: "https://example.com"},
	}
	for _, r := range records {
		require.NoError(t, s.LogInteraction(ctx, r))
	}

	got, err := s.RecentInteractions(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "link", got[1].ID)
	assert.Equal(t, "mid", got[2].ID)

	assert.Equal(t, "p1", got[0].PostID)
	assert.Equal(t, 1500*time.Millisecond, got[0].ViewDuration)
	assert.Equal(t, "https://example.com", got[1].LinkURL)
	assert.Equal(t, []string{"go", "sqlite"}, got[2].Tags)
	assert.Equal(t, "a1", got[2].AuthorAccountID)
	assert.True(t, got[2].Timestamp.Equal(records[1].Timestamp))
}

func TestRecentInteractions_EmptyIsNotAnError(t *testing.T) {
	s := newTestStore(t)

	got, err := s.RecentInteractions(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestLogInteraction_SameContentTwiceIsTwoRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.LogInteraction(ctx, types.InteractionRecord{ID: "1", Action: types.ActionLike, PostID: "p", Timestamp: now}))
	require.NoError(t, s.LogInteraction(ctx, types.InteractionRecord{ID: "2", Action: types.ActionUnlike, PostID: "p", Timestamp: now}))
	require.NoError(t, s.LogInteraction(ctx, types.InteractionRecord{ID: "3", Action: types.ActionLike, PostID: "p", Timestamp: now}))

	got, err := s.RecentInteractions(ctx, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestUpsertAffinities_OverwritesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Now().Add(-time.Hour)
	t2 := time.Now()

	require.NoError(t, s.UpsertAffinities(ctx, types.AffinityAuthor, []types.Affinity{
		{Key: "alice", Score: 3.5, InteractionCount: 3, LastUpdated: t1},
		{Key: "bob", Score: -0.5, InteractionCount: 1, LastUpdated: t1},
	}))
	require.NoError(t, s.UpsertAffinities(ctx, types.AffinityAuthor, []types.Affinity{
		{Key: "alice", Score: 1.0, InteractionCount: 1, LastUpdated: t2},
	}))

	alice, ok, err := s.Affinity(ctx, types.AffinityAuthor, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, alice.Score)
	assert.Equal(t, 1, alice.InteractionCount)
	assert.True(t, alice.LastUpdated.Equal(t2))

	bob, ok, err := s.Affinity(ctx, types.AffinityAuthor, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -0.5, bob.Score)

	all, err := s.TopAffinities(ctx, types.AffinityAuthor, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAffinityKindsAreSeparate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAffinities(ctx, types.AffinityHashtag, []types.Affinity{
		{Key: "golang", Score: 2, InteractionCount: 1, LastUpdated: time.Now()},
	}))

	_, ok, err := s.Affinity(ctx, types.AffinityAuthor, "golang")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Affinity(ctx, types.AffinityHashtag, "golang")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = s.Affinity(ctx, "mood", "golang")
	assert.Error(t, err)
}

func TestTopAffinities_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertAffinities(ctx, types.AffinityHashtag, []types.Affinity{
		{Key: "a", Score: 1, LastUpdated: now},
		{Key: "b", Score: 5, LastUpdated: now},
		{Key: "c", Score: -2, LastUpdated: now},
		{Key: "d", Score: 3, LastUpdated: now},
	}))

	top, err := s.TopAffinities(ctx, types.AffinityHashtag, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Key)
	assert.Equal(t, "d", top[1].Key)

	all, err := s.TopAffinities(ctx, types.AffinityHashtag, -1)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "c", all[3].Key)
}

func TestSavePosts_StoresWrappedPostAndFiltersByAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	original := &types.Post{
		ID:        "orig",
		CreatedAt: now.Add(-2 * time.Hour),
		Account:   types.Account{ID: "author-1"},
		Tags:      []types.Tag{{Name: "Go"}},
	}
	posts := []types.Post{
		{ID: "envelope", CreatedAt: now.Add(-time.Minute), Account: types.Account{ID: "booster"}, Reblog: original},
		{ID: "fresh", CreatedAt: now.Add(-time.Hour), Account: types.Account{ID: "author-2"}},
		{ID: "stale", CreatedAt: now.Add(-10 * 24 * time.Hour), Account: types.Account{ID: "author-3"}},
	}
	require.NoError(t, s.SavePosts(ctx, posts))

	recent, err := s.RecentPosts(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "fresh", recent[0].ID)
	assert.Equal(t, "orig", recent[1].ID)
	assert.Equal(t, "author-1", recent[1].Account.ID)
	assert.Equal(t, []string{"go"}, recent[1].TagNames())

	removed, err := s.PrunePosts(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSavePosts_UpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)

	require.NoError(t, s.SavePosts(ctx, []types.Post{{ID: "p", CreatedAt: created, FavouritesCount: 1}}))
	require.NoError(t, s.SavePosts(ctx, []types.Post{{ID: "p", CreatedAt: created, FavouritesCount: 9}}))

	recent, err := s.RecentPosts(ctx, created.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 9, recent[0].FavouritesCount)
}
