package affinity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/types"
)

// LookbackWindow is how far back interactions count towards affinities.
const LookbackWindow = 30 * 24 * time.Hour

// Weights maps an action type to its signed contribution.
type Weights map[types.ActionType]float64

// DefaultWeights is the weighting applied to each interaction. Actions
// without an entry (timeSpent) contribute nothing.
var DefaultWeights = Weights{
	types.ActionLike:     1.0,
	types.ActionComment:  3.0,
	types.ActionRepost:   2.0,
	types.ActionLinkOpen: 1.5,
	types.ActionView:     0.2,
	types.ActionUnlike:   -0.5,
	types.ActionUnrepost: -0.5,
}

// Of returns the weight for action, 0 if it has none.
func (w Weights) Of(action types.ActionType) float64 {
	return w[action]
}

// Repository is the persistence the calculator reads from and writes to.
type Repository interface {
	RecentInteractions(ctx context.Context, since time.Time) ([]types.InteractionRecord, error)
	UpsertAffinities(ctx context.Context, kind types.AffinityKind, affinities []types.Affinity) error
}

// Result summarizes one recalculation.
type Result struct {
	Interactions int
	Authors      int
	Hashtags     int
}

// Calculator recomputes author and hashtag affinities from the interaction log.
type Calculator struct {
	repo    Repository
	weights Weights
	window  time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option configures a Calculator.
type Option func(*Calculator)

func WithWeights(w Weights) Option { return func(c *Calculator) { c.weights = w } }

func WithClock(now func() time.Time) Option { return func(c *Calculator) { c.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Calculator) { c.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(c *Calculator) { c.log = l.With().Str("component", "affinity").Logger() }
}

// NewCalculator creates a calculator using DefaultWeights and LookbackWindow.
func NewCalculator(repo Repository, opts ...Option) *Calculator {
	c := &Calculator{
		repo:    repo,
		weights: DefaultWeights,
		window:  LookbackWindow,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate runs a full recompute over the lookback window and overwrites the
// affected affinity records. An empty window leaves every record untouched.
// Running it twice without new interactions yields the same scores and counts.
func (c *Calculator) Calculate(ctx context.Context) (Result, error) {
	start := time.Now()
	now := c.now()

	records, err := c.repo.RecentInteractions(ctx, now.Add(-c.window))
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch interactions: %w", err)
	}
	if len(records) == 0 {
		c.log.Debug().Msg("no interactions in window, affinities unchanged")
		return Result{}, nil
	}

	authors, hashtags := Aggregate(records, c.weights, now)

	if err := c.repo.UpsertAffinities(ctx, types.AffinityAuthor, authors); err != nil {
		return Result{}, fmt.Errorf("failed to upsert author affinities: %w", err)
	}
	if err := c.repo.UpsertAffinities(ctx, types.AffinityHashtag, hashtags); err != nil {
		return Result{}, fmt.Errorf("failed to upsert hashtag affinities: %w", err)
	}

	res := Result{
		Interactions: len(records),
		Authors:      len(authors),
		Hashtags:     len(hashtags),
	}
	elapsed := time.Since(start)
	c.metrics.Recalculated(elapsed, res.Authors, res.Hashtags)
	c.log.Info().
		Int("interactions", res.Interactions).
		Int("authors", res.Authors).
		Int("hashtags", res.Hashtags).
		Dur("duration_ms", elapsed).
		Msg("affinities recalculated")

	return res, nil
}
