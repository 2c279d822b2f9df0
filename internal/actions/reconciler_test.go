package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/types"
)

type call struct {
	method  string
	postID  string
	state   bool
	content string
}

type fakePerformer struct {
	mu       sync.Mutex
	calls    []call
	snapshot *types.Post
	err      error
	// block, when set, holds every call until it is closed.
	block chan struct{}
	// entered receives one value per call once it is in progress.
	entered chan struct{}
}

func (f *fakePerformer) record(c call) (*types.Post, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.snapshot, f.err
}

func (f *fakePerformer) ToggleLike(_ context.Context, postID string, like bool) (*types.Post, error) {
	return f.record(call{method: "like", postID: postID, state: like})
}

func (f *fakePerformer) ToggleRepost(_ context.Context, postID string, repost bool) (*types.Post, error) {
	return f.record(call{method: "repost", postID: postID, state: repost})
}

func (f *fakePerformer) PostComment(_ context.Context, postID, content string) (*types.Post, error) {
	return f.record(call{method: "comment", postID: postID, content: content})
}

type recordingLogger struct {
	mu      sync.Mutex
	records []types.InteractionRecord
}

func (l *recordingLogger) LogInteraction(_ context.Context, rec types.InteractionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func samplePost() *types.Post {
	return &types.Post{
		ID:              "p1",
		URL:             "https://example.social/@alice/p1",
		Account:         types.Account{ID: "alice"},
		FavouritesCount: 4,
		ReblogsCount:    2,
		RepliesCount:    1,
		Tags:            []types.Tag{{Name: "Go"}, {Name: "sqlite"}},
	}
}

func TestToggleLike_Success(t *testing.T) {
	perf := &fakePerformer{}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs, WithAccountID("me"))
	p := samplePost()

	require.NoError(t, r.ToggleLike(context.Background(), p))

	assert.True(t, p.Favourited)
	assert.Equal(t, 5, p.FavouritesCount)
	require.Len(t, perf.calls, 1)
	assert.Equal(t, call{method: "like", postID: "p1", state: true}, perf.calls[0])

	require.Len(t, logs.records, 1)
	rec := logs.records[0]
	assert.Equal(t, types.ActionLike, rec.Action)
	assert.Equal(t, "p1", rec.PostID)
	assert.Equal(t, "me", rec.AccountID)
	assert.Equal(t, "alice", rec.AuthorAccountID)
	assert.Equal(t, p.URL, rec.PostURL)
	assert.Equal(t, []string{"go", "sqlite"}, rec.Tags)
	assert.True(t, rec.Timestamp.IsZero(), "the interaction log stamps records")
}

func TestToggleLike_UnlikeDecrements(t *testing.T) {
	logs := &recordingLogger{}
	r := NewReconciler(&fakePerformer{}, logs)
	p := samplePost()
	p.Favourited = true

	require.NoError(t, r.ToggleLike(context.Background(), p))

	assert.False(t, p.Favourited)
	assert.Equal(t, 3, p.FavouritesCount)
	require.Len(t, logs.records, 1)
	assert.Equal(t, types.ActionUnlike, logs.records[0].Action)
}

func TestToggleLike_FailureRollsBackExactly(t *testing.T) {
	cause := errors.New("503")
	logs := &recordingLogger{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := NewReconciler(&fakePerformer{err: cause}, logs, WithMetrics(m))
	p := samplePost()
	before := *p

	err := r.ToggleLike(context.Background(), p)
	require.Error(t, err)

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, types.ActionLike, actionErr.Action)
	assert.Equal(t, "p1", actionErr.PostID)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, before, *p)
	assert.Empty(t, logs.records)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionOutcomes.WithLabelValues("like", "rolled_back")))
}

func TestToggleRepost_FailureAtZeroRestoresZero(t *testing.T) {
	r := NewReconciler(&fakePerformer{err: errors.New("gone")}, &recordingLogger{})
	p := &types.Post{ID: "p", Reblogged: true, ReblogsCount: 0}

	require.Error(t, r.ToggleRepost(context.Background(), p))
	assert.True(t, p.Reblogged)
	assert.Equal(t, 0, p.ReblogsCount)
}

func TestToggleLike_UnlikeAtZeroStaysZero(t *testing.T) {
	logs := &recordingLogger{}
	r := NewReconciler(&fakePerformer{}, logs)
	p := &types.Post{ID: "p", Favourited: true, FavouritesCount: 0}

	require.NoError(t, r.ToggleLike(context.Background(), p))
	assert.False(t, p.Favourited)
	assert.Equal(t, 0, p.FavouritesCount)
	require.Len(t, logs.records, 1)
	assert.Equal(t, types.ActionUnlike, logs.records[0].Action)
}

func TestToggleLike_TargetsWrappedPost(t *testing.T) {
	perf := &fakePerformer{}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs)
	inner := samplePost()
	envelope := &types.Post{ID: "boost", Account: types.Account{ID: "booster"}, Reblog: inner}

	require.NoError(t, r.ToggleLike(context.Background(), envelope))

	assert.True(t, inner.Favourited)
	assert.Equal(t, 5, inner.FavouritesCount)
	assert.False(t, envelope.Favourited)
	assert.Zero(t, envelope.FavouritesCount)

	require.Len(t, perf.calls, 1)
	assert.Equal(t, "p1", perf.calls[0].postID)
	require.Len(t, logs.records, 1)
	assert.Equal(t, "p1", logs.records[0].PostID)
	assert.Equal(t, "alice", logs.records[0].AuthorAccountID)
}

func TestToggleRepost_ReconcilesFromSnapshot(t *testing.T) {
	// Reblog endpoints answer with an envelope around the updated post.
	authoritative := &types.Post{ID: "p1", Reblogged: true, ReblogsCount: 10, RepliesCount: 7, FavouritesCount: 99}
	perf := &fakePerformer{snapshot: &types.Post{ID: "new-boost", Reblog: authoritative}}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs)
	p := samplePost()

	require.NoError(t, r.ToggleRepost(context.Background(), p))

	assert.True(t, p.Reblogged)
	assert.Equal(t, 10, p.ReblogsCount)
	assert.Equal(t, 7, p.RepliesCount)
	// Only the toggled counter and reply count are reconciled.
	assert.Equal(t, 4, p.FavouritesCount)
	require.Len(t, logs.records, 1)
	assert.Equal(t, types.ActionRepost, logs.records[0].Action)
}

func TestToggleLike_ServerDisagreementLogsServerState(t *testing.T) {
	perf := &fakePerformer{snapshot: &types.Post{ID: "p1", Favourited: false, FavouritesCount: 4}}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs)
	p := samplePost()

	require.NoError(t, r.ToggleLike(context.Background(), p))

	assert.False(t, p.Favourited)
	assert.Equal(t, 4, p.FavouritesCount)
	require.Len(t, logs.records, 1)
	assert.Equal(t, types.ActionUnlike, logs.records[0].Action)
}

func TestToggleLike_InFlightGuard(t *testing.T) {
	release := make(chan struct{})
	perf := &fakePerformer{block: release, entered: make(chan struct{}, 1)}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs)
	p := samplePost()

	done := make(chan error, 1)
	go func() { done <- r.ToggleLike(context.Background(), p) }()
	<-perf.entered

	// Same post id, separate copy: still rejected, and left untouched.
	other := samplePost()
	assert.ErrorIs(t, r.ToggleLike(context.Background(), other), ErrActionInFlight)
	assert.False(t, other.Favourited)
	assert.Equal(t, 4, other.FavouritesCount)

	close(release)

	require.NoError(t, <-done)
	assert.True(t, p.Favourited)
	assert.Len(t, logs.records, 1)
}

func TestComment_Success(t *testing.T) {
	perf := &fakePerformer{}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs, WithAccountID("me"))
	inner := samplePost()
	envelope := &types.Post{ID: "boost", Reblog: inner}

	require.NoError(t, r.Comment(context.Background(), envelope, "nice"))

	assert.Equal(t, 2, inner.RepliesCount)
	require.Len(t, perf.calls, 1)
	assert.Equal(t, call{method: "comment", postID: "p1", content: "nice"}, perf.calls[0])
	require.Len(t, logs.records, 1)
	assert.Equal(t, types.ActionComment, logs.records[0].Action)
	assert.Equal(t, "p1", logs.records[0].PostID)
}

func TestComment_BlankIsNoop(t *testing.T) {
	perf := &fakePerformer{}
	logs := &recordingLogger{}
	r := NewReconciler(perf, logs)
	p := samplePost()

	require.NoError(t, r.Comment(context.Background(), p, "  \n\t "))

	assert.Equal(t, 1, p.RepliesCount)
	assert.Empty(t, perf.calls)
	assert.Empty(t, logs.records)
}

func TestComment_FailureRollsBack(t *testing.T) {
	logs := &recordingLogger{}
	r := NewReconciler(&fakePerformer{err: errors.New("422")}, logs)
	p := samplePost()

	err := r.Comment(context.Background(), p, "hello")

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, types.ActionComment, actionErr.Action)
	assert.Equal(t, 1, p.RepliesCount)
	assert.Empty(t, logs.records)
}
