package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tootrank/internal/actions"
	"github.com/ibeckermayer/tootrank/internal/cache"
	"github.com/ibeckermayer/tootrank/internal/config"
	"github.com/ibeckermayer/tootrank/internal/digest"
	"github.com/ibeckermayer/tootrank/internal/ranking"
	"github.com/ibeckermayer/tootrank/internal/scheduler"
	"github.com/ibeckermayer/tootrank/internal/store"
	"github.com/ibeckermayer/tootrank/internal/types"
)

type fakeFetcher struct {
	posts []types.Post
	calls int
}

func (f *fakeFetcher) FetchRecentPosts(context.Context, string, int) ([]types.Post, error) {
	f.calls++
	return f.posts, nil
}

type fakePerformer struct {
	err   error
	likes []bool
}

func (f *fakePerformer) ToggleLike(_ context.Context, _ string, like bool) (*types.Post, error) {
	f.likes = append(f.likes, like)
	return nil, f.err
}

func (f *fakePerformer) ToggleRepost(context.Context, string, bool) (*types.Post, error) {
	return nil, f.err
}

func (f *fakePerformer) PostComment(context.Context, string, string) (*types.Post, error) {
	return nil, f.err
}

type fakeMailer struct {
	sent []*digest.Digest
	err  error
}

func (m *fakeMailer) SendDigest(d *digest.Digest) error {
	m.sent = append(m.sent, d)
	return m.err
}

type fixture struct {
	app       *App
	store     *store.Store
	fetcher   *fakeFetcher
	performer *fakePerformer
	dir       string
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "data", "tootrank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Now()
	inner := types.Post{
		ID: "inner", URL: "https://example.social/@alice/inner", CreatedAt: now.Add(-time.Hour),
		Account: types.Account{ID: "alice", Acct: "alice"}, Tags: []types.Tag{{Name: "Go"}},
		FavouritesCount: 2,
	}
	f := &fakeFetcher{posts: []types.Post{
		{ID: "plain", CreatedAt: now.Add(-time.Minute), Account: types.Account{ID: "bob", Acct: "bob"}},
		{ID: "envelope", CreatedAt: now, Account: types.Account{ID: "carol"}, Reblog: &inner},
	}}
	perf := &fakePerformer{}

	deps := Deps{
		Config:     config.Default(),
		ConfigPath: filepath.Join(dir, "config.toml"),
		Ranking:    ranking.New(st),
		Candidates: st,
		Fetcher:    f,
		Performer:  perf,
		AccountID:  "me",
		Cache:      cache.New(filepath.Join(dir, "cache")),
		DigestDir:  filepath.Join(dir, "digests"),
		Log:        zerolog.Nop(),
	}
	a, err := New(deps)
	require.NoError(t, err)

	return &fixture{app: a, store: st, fetcher: f, performer: perf, dir: dir, deps: deps}
}

// restart builds a fresh App over the fixture's store and cache, the way
// each CLI invocation does.
func (fx *fixture) restart(t *testing.T) *App {
	t.Helper()
	a, err := New(fx.deps)
	require.NoError(t, err)
	return a
}

func ids(posts []types.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestRefreshTimeline_RanksAndStoresCandidates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	posts, err := fx.app.RefreshTimeline(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "envelope"}, ids(posts))

	require.NoError(t, fx.store.UpsertAffinities(ctx, types.AffinityHashtag, []types.Affinity{
		{Key: "go", Score: 2, InteractionCount: 1, LastUpdated: time.Now()},
	}))

	posts, err = fx.app.RefreshTimeline(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"envelope", "plain"}, ids(posts))
	assert.Equal(t, 1, fx.fetcher.calls, "second read is served from cache")

	candidates, err := fx.store.RecentPosts(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"plain", "inner"}, ids(candidates))
}

func TestLike_ByWrappedIDLogsInteraction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.app.Like(ctx, "inner"))

	p, err := fx.app.Post(ctx, "envelope")
	require.NoError(t, err)
	assert.True(t, p.Reblog.Favourited)
	assert.Equal(t, 3, p.Reblog.FavouritesCount)

	recs, err := fx.store.RecentInteractions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.ActionLike, recs[0].Action)
	assert.Equal(t, "inner", recs[0].PostID)
	assert.Equal(t, "me", recs[0].AccountID)
	assert.Equal(t, []string{"go"}, recs[0].Tags)

	fx.app.RecalculateNow(ctx)
	score, err := fx.app.InterestScore(ctx, "envelope")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, score, 1e-9)
}

func TestLike_TogglesAcrossRestarts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.app.Like(ctx, "inner"))
	require.NoError(t, fx.restart(t).Like(ctx, "inner"))

	assert.Equal(t, []bool{true, false}, fx.performer.likes)
	assert.Equal(t, 1, fx.fetcher.calls, "second run reads the cached timeline")

	recs, err := fx.store.RecentInteractions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	got := make([]types.ActionType, len(recs))
	for i, r := range recs {
		got[i] = r.Action
	}
	assert.Equal(t, []types.ActionType{types.ActionUnlike, types.ActionLike}, got, "newest first")

	post, err := fx.restart(t).Post(ctx, "inner")
	require.NoError(t, err)
	assert.False(t, post.Target().Favourited)
	assert.Equal(t, 2, post.Target().FavouritesCount)
}

func TestRepost_FailureRollsBack(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.performer.err = errors.New("timeout")

	err := fx.app.Repost(ctx, "plain")
	var actionErr *actions.Error
	require.ErrorAs(t, err, &actionErr)

	p, err := fx.app.Post(ctx, "plain")
	require.NoError(t, err)
	assert.False(t, p.Reblogged)
	assert.Zero(t, p.ReblogsCount)

	recs, err := fx.store.RecentInteractions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestComment_UnknownPost(t *testing.T) {
	fx := newFixture(t)

	err := fx.app.Comment(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestOpenPost_LogsLinkOpen(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	var opened string
	fx.app.openURL = func(u string) error { opened = u; return nil }

	require.NoError(t, fx.app.OpenPost(ctx, "envelope"))
	assert.Equal(t, "https://example.social/@alice/inner", opened)

	recs, err := fx.store.RecentInteractions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.ActionLinkOpen, recs[0].Action)
	assert.Equal(t, opened, recs[0].LinkURL)

	assert.Error(t, fx.app.OpenPost(ctx, "plain"), "post without url")
}

func TestBuildDigest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, _, err := fx.app.BuildDigest(ctx)
	assert.Error(t, err, "nothing to recommend yet")

	_, err = fx.app.RefreshTimeline(ctx, false)
	require.NoError(t, err)
	require.NoError(t, fx.app.Like(ctx, "inner"))
	fx.app.RecalculateNow(ctx)

	d, path, err := fx.app.BuildDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, d.PostIDs)
	assert.FileExists(t, path)
	assert.Equal(t, []string{"inner"}, fx.app.RecommendedIDs(ctx, 0))

	var opened string
	fx.app.openFile = func(p string) error { opened = p; return nil }
	require.NoError(t, fx.app.ViewLastDigest())
	assert.Equal(t, path, opened)
}

func TestPruneCandidates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.store.SavePosts(ctx, []types.Post{
		{ID: "ancient", CreatedAt: time.Now().AddDate(0, 0, -30)},
	}))
	removed, err := fx.app.PruneCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestReloadConfig(t *testing.T) {
	fx := newFixture(t)

	cfg := config.Default()
	cfg.Ranking.RecommendationLimit = 3
	require.NoError(t, cfg.SaveTo(filepath.Join(fx.dir, "config.toml")))

	require.NoError(t, fx.app.ReloadConfig())
	assert.Equal(t, 3, fx.app.getSnapshot().config.Ranking.RecommendationLimit)
}

func TestSchedule(t *testing.T) {
	fx := newFixture(t)
	s, err := scheduler.New("UTC", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, fx.app.Schedule(s))
	assert.Len(t, s.ListJobs(), 3, "no mailer, no digest job")

	fx.app.mailer = &fakeMailer{}
	cfg := config.Default()
	cfg.Digest.SendAt = "07:00"
	require.NoError(t, cfg.SaveTo(filepath.Join(fx.dir, "config.toml")))
	require.NoError(t, fx.app.ReloadConfig())

	require.NoError(t, fx.app.Schedule(s))
	jobs := s.ListJobs()
	require.Len(t, jobs, 4)
	assert.Equal(t, scheduler.JobDigest, jobs[0].Name)

	cfg.Digest.SendAt = ""
	require.NoError(t, cfg.SaveTo(filepath.Join(fx.dir, "config.toml")))
	require.NoError(t, fx.app.ReloadConfig())
	require.NoError(t, fx.app.Schedule(s))
	assert.Len(t, s.ListJobs(), 3)
}

func TestSendDigest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.app.SendDigest(ctx)
	assert.ErrorIs(t, err, ErrNoMailer)

	m := &fakeMailer{}
	fx.app.mailer = m

	_, err = fx.app.RefreshTimeline(ctx, false)
	require.NoError(t, err)
	require.NoError(t, fx.app.Like(ctx, "inner"))
	fx.app.RecalculateNow(ctx)

	d, err := fx.app.SendDigest(ctx)
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Same(t, d, m.sent[0])

	m.err = errors.New("relay refused")
	_, err = fx.app.SendDigest(ctx)
	assert.ErrorContains(t, err, "relay refused")
}
