package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/tootrank/internal/actions"
	"github.com/ibeckermayer/tootrank/internal/affinity"
	"github.com/ibeckermayer/tootrank/internal/cache"
	"github.com/ibeckermayer/tootrank/internal/config"
	"github.com/ibeckermayer/tootrank/internal/digest"
	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/ranking"
	"github.com/ibeckermayer/tootrank/internal/recommend"
	"github.com/ibeckermayer/tootrank/internal/scheduler"
	"github.com/ibeckermayer/tootrank/internal/timeline"
	"github.com/ibeckermayer/tootrank/internal/types"
)

// ErrPostNotFound is returned when an action names a post that is not on the
// current timeline.
var ErrPostNotFound = errors.New("post not found on timeline")

// CandidateStore keeps recommendation candidates.
type CandidateStore interface {
	timeline.PostSink
	PrunePosts(ctx context.Context, before time.Time) (int64, error)
}

// Mailer delivers a rendered digest.
type Mailer interface {
	SendDigest(d *digest.Digest) error
}

// Deps are the collaborators an App is built from.
type Deps struct {
	Config *config.Config
	// ConfigPath is reloaded by ReloadConfig; empty means the default path.
	ConfigPath string
	Ranking    *ranking.Service
	Candidates CandidateStore
	Fetcher    timeline.Fetcher
	Performer  actions.Performer
	AccountID  string
	Cache      *cache.Cache
	DigestDir  string
	// Mailer is optional; without it digests are only saved.
	Mailer  Mailer
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// App holds the application state.
type App struct {
	// Immutable after creation.
	ranking    *ranking.Service
	candidates CandidateStore
	fetcher    timeline.Fetcher
	reconciler *actions.Reconciler
	cache      *cache.Cache
	digestDir  string
	mailer     Mailer
	configPath string
	metrics    *metrics.Metrics
	log        zerolog.Logger
	openURL    func(string) error
	openFile   func(string) error

	// Mutable fields - use getSnapshot() for concurrent access.
	mu      sync.RWMutex
	config  *config.Config
	reader  *timeline.Reader
	builder *digest.Builder

	// postsMu guards posts and every post in it; the reconciler shares it.
	postsMu sync.Mutex
	posts   []types.Post
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config  *config.Config
	reader  *timeline.Reader
	builder *digest.Builder
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		config:  a.config,
		reader:  a.reader,
		builder: a.builder,
	}
}

// New creates a new App instance.
func New(d Deps) (*App, error) {
	a := &App{
		ranking:    d.Ranking,
		candidates: d.Candidates,
		fetcher:    d.Fetcher,
		cache:      d.Cache,
		digestDir:  d.DigestDir,
		mailer:     d.Mailer,
		configPath: d.ConfigPath,
		metrics:    d.Metrics,
		log:        d.Log.With().Str("component", "app").Logger(),
		openURL:    browser.OpenURL,
		openFile:   browser.OpenFile,
	}
	a.reconciler = actions.NewReconciler(d.Performer, d.Ranking,
		actions.WithAccountID(d.AccountID),
		actions.WithLocker(&a.postsMu),
		actions.WithMetrics(d.Metrics),
		actions.WithLogger(d.Log),
	)

	reader, builder, err := a.build(d.Config)
	if err != nil {
		return nil, err
	}
	a.config, a.reader, a.builder = d.Config, reader, builder
	return a, nil
}

func (a *App) build(cfg *config.Config) (*timeline.Reader, *digest.Builder, error) {
	var sink timeline.PostSink
	if a.candidates != nil {
		sink = a.candidates
	}
	reader := timeline.NewReader(a.fetcher, sink, a.cache,
		timeline.WithTTL(time.Duration(cfg.Timeline.CacheTTLMinutes)*time.Minute),
		timeline.WithLimit(cfg.Instance.TimelineLimit),
		timeline.WithMetrics(a.metrics),
		timeline.WithLogger(a.log),
	)
	builder, err := digest.New(cfg.Digest.MaxPosts)
	if err != nil {
		return nil, nil, err
	}
	return reader, builder, nil
}

// RefreshTimeline loads the home timeline, ranks it by affinity and makes it
// the current timeline. With refresh set the cache is bypassed.
func (a *App) RefreshTimeline(ctx context.Context, refresh bool) ([]types.Post, error) {
	s := a.getSnapshot()

	page, err := s.reader.Home(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if page.Stale {
		a.log.Warn().Time("fetched_at", page.FetchedAt).Msg("showing stale timeline")
	}

	scored := a.ranking.ScoredTimeline(ctx, page.Posts)

	a.postsMu.Lock()
	a.posts = scored
	out := clonePosts(scored)
	a.postsMu.Unlock()
	return out, nil
}

// Timeline returns a copy of the current timeline.
func (a *App) Timeline() []types.Post {
	a.postsMu.Lock()
	defer a.postsMu.Unlock()
	return clonePosts(a.posts)
}

// Recommendations returns ranked candidates. limit <= 0 uses the configured
// recommendation limit.
func (a *App) Recommendations(ctx context.Context, limit int) []recommend.Ranked {
	if limit <= 0 {
		limit = a.getSnapshot().config.Ranking.RecommendationLimit
	}
	return a.ranking.Ranked(ctx, limit)
}

// RecommendedIDs is Recommendations reduced to post ids.
func (a *App) RecommendedIDs(ctx context.Context, limit int) []string {
	if limit <= 0 {
		limit = a.getSnapshot().config.Ranking.RecommendationLimit
	}
	return a.ranking.TopRecommendations(ctx, limit)
}

// BuildDigest renders the current recommendations and saves them. It returns
// the digest and the path it was written to.
func (a *App) BuildDigest(ctx context.Context) (*digest.Digest, string, error) {
	s := a.getSnapshot()

	ranked := a.ranking.Ranked(ctx, s.config.Digest.MaxPosts)
	if len(ranked) == 0 {
		return nil, "", fmt.Errorf("no recommendations yet; refresh the timeline and interact with some posts first")
	}

	now := time.Now()
	if loc, err := time.LoadLocation(s.config.Digest.Timezone); err == nil {
		now = now.In(loc)
	}

	d, err := s.builder.Build(ranked, now)
	if err != nil {
		return nil, "", err
	}
	path, err := d.Save(a.digestDir)
	if err != nil {
		return nil, "", err
	}
	a.log.Info().Str("path", path).Int("posts", len(d.PostIDs)).Msg("digest saved")
	return d, path, nil
}

// ErrNoMailer is returned by SendDigest when email delivery is not configured.
var ErrNoMailer = errors.New("email delivery is not configured")

// SendDigest builds a digest and mails it.
func (a *App) SendDigest(ctx context.Context) (*digest.Digest, error) {
	if a.mailer == nil {
		return nil, ErrNoMailer
	}
	d, _, err := a.BuildDigest(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.mailer.SendDigest(d); err != nil {
		return nil, fmt.Errorf("failed to send digest: %w", err)
	}
	a.log.Info().Str("title", d.Title).Int("posts", len(d.PostIDs)).Msg("digest sent")
	return d, nil
}

// ViewLastDigest opens the most recent digest file.
func (a *App) ViewLastDigest() error {
	path, err := digest.LatestDigest(a.digestDir)
	if err != nil {
		return err
	}
	a.log.Info().Str("path", path).Msg("opening digest")
	return a.openFile(path)
}

// Like toggles the favourite on the post with id.
func (a *App) Like(ctx context.Context, id string) error {
	p, err := a.findPost(ctx, id)
	if err != nil {
		return err
	}
	if err := a.reconciler.ToggleLike(ctx, p); err != nil {
		return err
	}
	a.persist(p)
	return nil
}

// Repost toggles the reblog on the post with id.
func (a *App) Repost(ctx context.Context, id string) error {
	p, err := a.findPost(ctx, id)
	if err != nil {
		return err
	}
	if err := a.reconciler.ToggleRepost(ctx, p); err != nil {
		return err
	}
	a.persist(p)
	return nil
}

// Comment replies to the post with id.
func (a *App) Comment(ctx context.Context, id, content string) error {
	p, err := a.findPost(ctx, id)
	if err != nil {
		return err
	}
	if err := a.reconciler.Comment(ctx, p, content); err != nil {
		return err
	}
	a.persist(p)
	return nil
}

// persist writes the acted-on post back into the cached timeline, so the
// next process reading the cache starts from the reconciled state.
func (a *App) persist(p *types.Post) {
	a.postsMu.Lock()
	post := clonePost(*p)
	a.postsMu.Unlock()

	if err := a.getSnapshot().reader.Update([]types.Post{post}); err != nil {
		a.log.Warn().Err(err).Str("post_id", post.ID).Msg("failed to persist post state")
	}
}

// Post returns a copy of the post with id from the current timeline.
func (a *App) Post(ctx context.Context, id string) (types.Post, error) {
	p, err := a.findPost(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	a.postsMu.Lock()
	defer a.postsMu.Unlock()
	return clonePost(*p), nil
}

// OpenPost opens the post in the browser and records the link open.
func (a *App) OpenPost(ctx context.Context, id string) error {
	p, err := a.Post(ctx, id)
	if err != nil {
		return err
	}
	target := p.Target()
	if target.URL == "" {
		return fmt.Errorf("post %s has no url", target.ID)
	}

	if err := a.openURL(target.URL); err != nil {
		return err
	}
	a.ranking.LogInteraction(ctx, types.InteractionRecord{
		PostID:          target.ID,
		Action:          types.ActionLinkOpen,
		AuthorAccountID: target.Account.ID,
		PostURL:         target.URL,
		Tags:            target.TagNames(),
		LinkURL:         target.URL,
	})
	return nil
}

// InterestScore scores one post of the current timeline.
func (a *App) InterestScore(ctx context.Context, id string) (float64, error) {
	p, err := a.Post(ctx, id)
	if err != nil {
		return 0, err
	}
	target := p.Target()
	return a.ranking.InterestScore(ctx, target.ID, target.Account.ID, target.TagNames()), nil
}

// RecalculateNow recomputes affinities immediately.
func (a *App) RecalculateNow(ctx context.Context) affinity.Result {
	return a.ranking.CalculateAffinities(ctx)
}

// PruneCandidates drops candidate posts older than the retention period.
func (a *App) PruneCandidates(ctx context.Context) (int64, error) {
	if a.candidates == nil {
		return 0, nil
	}
	days := a.getSnapshot().config.Timeline.CandidateRetentionDays
	removed, err := a.candidates.PrunePosts(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return 0, fmt.Errorf("failed to prune candidates: %w", err)
	}
	a.log.Info().Int64("removed", removed).Msg("pruned candidate posts")
	return removed, nil
}

// Schedule registers the background jobs on s.
func (a *App) Schedule(s *scheduler.Scheduler) error {
	cfg := a.getSnapshot().config

	if err := s.AddRecalculationJob(cfg.Ranking.RecalculateSchedule, func(ctx context.Context) error {
		a.RecalculateNow(ctx)
		return nil
	}); err != nil {
		return err
	}
	if err := s.AddRefreshJob(cfg.Timeline.RefreshIntervalMinutes, func(ctx context.Context) error {
		_, err := a.RefreshTimeline(ctx, true)
		return err
	}); err != nil {
		return err
	}
	if err := s.AddPruneJob(func(ctx context.Context) error {
		_, err := a.PruneCandidates(ctx)
		return err
	}); err != nil {
		return err
	}

	if a.mailer == nil || cfg.Digest.SendAt == "" {
		s.RemoveJob(scheduler.JobDigest)
		return nil
	}
	return s.AddDigestJob(cfg.Digest.SendAt, func(ctx context.Context) error {
		_, err := a.SendDigest(ctx)
		return err
	})
}

// ReloadConfig reloads the configuration from disk.
func (a *App) ReloadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFrom(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	reader, builder, err := a.build(cfg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.config = cfg
	a.reader = reader
	a.builder = builder
	a.mu.Unlock()

	a.log.Info().Msg("configuration reloaded")
	return nil
}

// findPost returns the live post with id, matching either a post or the post
// it reblogs. The current timeline is loaded once if the post is not on it.
func (a *App) findPost(ctx context.Context, id string) (*types.Post, error) {
	if p := a.lookup(id); p != nil {
		return p, nil
	}
	if _, err := a.RefreshTimeline(ctx, false); err != nil {
		return nil, err
	}
	if p := a.lookup(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
}

func (a *App) lookup(id string) *types.Post {
	a.postsMu.Lock()
	defer a.postsMu.Unlock()
	for i := range a.posts {
		if a.posts[i].ID == id || a.posts[i].Target().ID == id {
			return &a.posts[i]
		}
	}
	return nil
}

func clonePosts(posts []types.Post) []types.Post {
	out := make([]types.Post, len(posts))
	for i, p := range posts {
		out[i] = clonePost(p)
	}
	return out
}

func clonePost(p types.Post) types.Post {
	p.Tags = append([]types.Tag(nil), p.Tags...)
	if p.Reblog != nil {
		inner := clonePost(*p.Reblog)
		p.Reblog = &inner
	}
	return p
}
