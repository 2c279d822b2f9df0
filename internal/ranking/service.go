package ranking

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ibeckermayer/tootrank/internal/affinity"
	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/recommend"
	"github.com/ibeckermayer/tootrank/internal/types"
)

// ErrNotConfigured is reported when the service has no store.
var ErrNotConfigured = errors.New("ranking service has no store configured")

// Store is everything the service persists to.
type Store interface {
	LogInteraction(ctx context.Context, rec types.InteractionRecord) error
	affinity.Repository
	recommend.Repository
}

// Service is the entry point for logging interactions and reading rankings.
// Reads never fail: errors are logged and an empty or neutral result is
// returned instead.
type Service struct {
	store   Store
	calc    *affinity.Calculator
	engine  *recommend.Engine
	metrics *metrics.Metrics
	now     func() time.Time
	log     zerolog.Logger

	recalc singleflight.Group
}

type Option func(*options)

type options struct {
	metrics *metrics.Metrics
	now     func() time.Time
	log     zerolog.Logger
}

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// New builds a service over store. A nil store yields a service whose every
// operation reports ErrNotConfigured and returns its default result.
func New(store Store, opts ...Option) *Service {
	o := options{now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if isNil(store) {
		store = nil
	}

	s := &Service{
		store:   store,
		metrics: o.metrics,
		now:     o.now,
		log:     o.log.With().Str("component", "ranking").Logger(),
	}
	if store != nil {
		s.calc = affinity.NewCalculator(store,
			affinity.WithClock(o.now),
			affinity.WithMetrics(o.metrics),
			affinity.WithLogger(o.log),
		)
		s.engine = recommend.NewEngine(store,
			recommend.WithClock(o.now),
			recommend.WithMetrics(o.metrics),
			recommend.WithLogger(o.log),
		)
	}
	return s
}

// isNil reports whether store is nil, including a nil pointer in the
// interface.
func isNil(store Store) bool {
	if store == nil {
		return true
	}
	v := reflect.ValueOf(store)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (s *Service) configured(op string) bool {
	if s.store == nil {
		s.log.Error().Err(ErrNotConfigured).Str("op", op).Msg("ranking unavailable")
		return false
	}
	return true
}

// LogInteraction appends rec to the interaction log. ID and Timestamp are
// filled in when empty and tags are normalized. Failures are only logged.
func (s *Service) LogInteraction(ctx context.Context, rec types.InteractionRecord) {
	if !s.configured("log_interaction") {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Tags = types.NormalizeTags(rec.Tags)

	if err := s.store.LogInteraction(ctx, rec); err != nil {
		s.log.Error().Err(err).
			Str("action", string(rec.Action)).
			Str("post_id", rec.PostID).
			Msg("failed to log interaction")
		return
	}
	s.metrics.InteractionLogged(rec.Action)
	s.log.Debug().Str("action", string(rec.Action)).Str("post_id", rec.PostID).Msg("interaction logged")
}

// CalculateAffinities recomputes all affinities. Concurrent calls share a
// single run.
func (s *Service) CalculateAffinities(ctx context.Context) affinity.Result {
	if !s.configured("calculate_affinities") {
		return affinity.Result{}
	}
	v, err, shared := s.recalc.Do("affinities", func() (any, error) {
		return s.calc.Calculate(ctx)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("affinity recalculation failed")
		return affinity.Result{}
	}
	if shared {
		s.log.Debug().Msg("joined in-progress recalculation")
	}
	return v.(affinity.Result)
}

// TopRecommendations returns up to limit recommended post ids, best first.
func (s *Service) TopRecommendations(ctx context.Context, limit int) []string {
	if !s.configured("top_recommendations") {
		return []string{}
	}
	ids, err := s.engine.TopRecommendations(ctx, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to compute recommendations")
		return []string{}
	}
	return ids
}

// Ranked is TopRecommendations with the posts and scores attached.
func (s *Service) Ranked(ctx context.Context, limit int) []recommend.Ranked {
	if !s.configured("ranked") {
		return []recommend.Ranked{}
	}
	ranked, err := s.engine.Rank(ctx, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to rank candidates")
		return []recommend.Ranked{}
	}
	s.metrics.Recommended(len(ranked))
	return ranked
}

// ScoredTimeline reorders posts by affinity. On failure posts come back in
// their original order.
func (s *Service) ScoredTimeline(ctx context.Context, posts []types.Post) []types.Post {
	if !s.configured("scored_timeline") {
		return posts
	}
	scored, err := s.engine.ScoredTimeline(ctx, posts)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to score timeline")
		return posts
	}
	return scored
}

// InterestScore is the summed affinity for a post's author and tags. postID
// is only used for logging.
func (s *Service) InterestScore(ctx context.Context, postID, authorID string, tags []string) float64 {
	if !s.configured("interest_score") {
		return 0
	}
	score := s.engine.InterestScore(ctx, authorID, tags)
	s.log.Debug().Str("post_id", postID).Float64("score", score).Msg("interest score")
	return score
}
