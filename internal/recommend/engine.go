package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/types"
)

const (
	// CandidateWindow bounds both candidate selection and the decay curve.
	CandidateWindow = 7 * 24 * time.Hour

	// Threshold is the score a recommendation must strictly exceed.
	Threshold = 0.1
)

// Repository is the read side the engine scores against.
type Repository interface {
	TopAffinities(ctx context.Context, kind types.AffinityKind, limit int) ([]types.Affinity, error)
	Affinity(ctx context.Context, kind types.AffinityKind, key string) (types.Affinity, bool, error)
	RecentPosts(ctx context.Context, since time.Time) ([]types.Post, error)
}

// Ranked is a candidate post and its decayed score.
type Ranked struct {
	Post  types.Post `json:"post"`
	Score float64    `json:"score"`
}

// Engine scores posts against the stored affinities.
type Engine struct {
	repo    Repository
	now     func() time.Time
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "recommend").Logger() }
}

func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{repo: repo, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DecayFactor is 1 for a brand new post and falls linearly to 0 at
// CandidateWindow. Posts from the future are treated as brand new.
func DecayFactor(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return max(0, 1-age.Seconds()/CandidateWindow.Seconds())
}

// lookup holds affinity scores keyed by author id and normalized tag.
type lookup struct {
	authors  map[string]float64
	hashtags map[string]float64
}

func (l lookup) score(p *types.Post) float64 {
	s := l.authors[p.Account.ID]
	for _, tag := range p.TagNames() {
		s += l.hashtags[tag]
	}
	return s
}

// load fetches author and hashtag affinities concurrently. limit <= 0 loads all.
func (e *Engine) load(ctx context.Context, limit int) (lookup, error) {
	var authors, hashtags []types.Affinity

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		authors, err = e.repo.TopAffinities(gctx, types.AffinityAuthor, limit)
		return err
	})
	g.Go(func() error {
		var err error
		hashtags, err = e.repo.TopAffinities(gctx, types.AffinityHashtag, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return lookup{}, fmt.Errorf("failed to load affinities: %w", err)
	}

	toMap := func(affs []types.Affinity) map[string]float64 {
		return lo.SliceToMap(affs, func(a types.Affinity) (string, float64) { return a.Key, a.Score })
	}
	return lookup{authors: toMap(authors), hashtags: toMap(hashtags)}, nil
}

// Rank scores posts from the candidate window against the top limit author
// and hashtag affinities. Only posts scoring strictly above Threshold after
// decay are returned, best first, at most limit of them.
func (e *Engine) Rank(ctx context.Context, limit int) ([]Ranked, error) {
	if limit <= 0 {
		return []Ranked{}, nil
	}

	aff, err := e.load(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := e.now()
	candidates, err := e.repo.RecentPosts(ctx, now.Add(-CandidateWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate posts: %w", err)
	}
	if len(candidates) == 0 {
		return []Ranked{}, nil
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, p := range candidates {
		target := p.Target()
		score := aff.score(target) * DecayFactor(now.Sub(target.CreatedAt))
		if score > Threshold {
			ranked = append(ranked, Ranked{Post: *target, Score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	ranked = lo.UniqBy(ranked, func(r Ranked) string { return r.Post.ID })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	e.log.Debug().
		Int("candidates", len(candidates)).
		Int("ranked", len(ranked)).
		Msg("ranked candidates")
	return ranked, nil
}

// TopRecommendations returns the ids of Rank's result.
func (e *Engine) TopRecommendations(ctx context.Context, limit int) ([]string, error) {
	ranked, err := e.Rank(ctx, limit)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(ranked, func(r Ranked, _ int) string { return r.Post.ID })
	e.metrics.Recommended(len(ids))
	return ids, nil
}

// ScoredTimeline reorders posts by score against every stored affinity.
// Nothing is dropped and ties keep their input order. Reblog envelopes are
// scored by the wrapped post but returned as envelopes.
func (e *Engine) ScoredTimeline(ctx context.Context, posts []types.Post) ([]types.Post, error) {
	if len(posts) == 0 {
		return []types.Post{}, nil
	}

	aff, err := e.load(ctx, 0)
	if err != nil {
		return nil, err
	}

	type scored struct {
		post  types.Post
		score float64
	}
	items := make([]scored, len(posts))
	for i := range posts {
		items[i] = scored{post: posts[i], score: aff.score(posts[i].Target())}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	return lo.Map(items, func(s scored, _ int) types.Post { return s.post }), nil
}

// InterestScore sums the stored affinity of authorID and each tag. Missing
// entries and failed lookups contribute 0.
func (e *Engine) InterestScore(ctx context.Context, authorID string, tags []string) float64 {
	var score float64

	if authorID != "" {
		score += e.affinityScore(ctx, types.AffinityAuthor, authorID)
	}
	// A tag repeated in the list counts once.
	for _, tag := range types.NormalizeTags(tags) {
		score += e.affinityScore(ctx, types.AffinityHashtag, tag)
	}
	return score
}

func (e *Engine) affinityScore(ctx context.Context, kind types.AffinityKind, key string) float64 {
	a, ok, err := e.repo.Affinity(ctx, kind, key)
	if err != nil {
		e.log.Warn().Err(err).Str("kind", string(kind)).Str("key", key).Msg("affinity lookup failed")
		return 0
	}
	if !ok {
		return 0
	}
	return a.Score
}
