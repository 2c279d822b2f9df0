package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/tootrank/internal/cache"
	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/types"
)

const (
	homeKey = "home"
	// snapshots kept on disk per key
	keepSnapshots = 5
)

// Fetcher loads the newest posts of the home timeline. maxID pages backwards
// when non-empty.
type Fetcher interface {
	FetchRecentPosts(ctx context.Context, maxID string, limit int) ([]types.Post, error)
}

// PostSink receives fetched posts as recommendation candidates.
type PostSink interface {
	SavePosts(ctx context.Context, posts []types.Post) error
}

// Page is a timeline read together with where it came from.
type Page struct {
	Posts     []types.Post `json:"posts"`
	FetchedAt time.Time    `json:"fetched_at"`
	// Cached is true when Posts came from disk instead of the network.
	Cached bool `json:"-"`
	// Stale is true when the network failed and an expired snapshot was used.
	Stale bool `json:"-"`
}

// Reader serves the home timeline through the disk cache.
type Reader struct {
	fetcher Fetcher
	sink    PostSink
	cache   *cache.Cache
	ttl     time.Duration
	limit   int
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Reader)

func WithTTL(d time.Duration) Option { return func(r *Reader) { r.ttl = d } }

func WithLimit(n int) Option { return func(r *Reader) { r.limit = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Reader) { r.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) { r.log = l.With().Str("component", "timeline").Logger() }
}

// NewReader creates a reader. sink may be nil.
func NewReader(fetcher Fetcher, sink PostSink, c *cache.Cache, opts ...Option) *Reader {
	r := &Reader{
		fetcher: fetcher,
		sink:    sink,
		cache:   c,
		ttl:     5 * time.Minute,
		limit:   40,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Home returns the home timeline. A fresh snapshot is served from disk unless
// refresh is set. Otherwise the network is used; if that fails, the newest
// snapshot of any age is served instead and only when there is none is the
// fetch error returned.
func (r *Reader) Home(ctx context.Context, refresh bool) (Page, error) {
	if !refresh {
		page, _, err := cache.Latest[Page](r.cache, homeKey, r.ttl)
		if err == nil {
			r.metrics.CacheHit()
			page.Cached = true
			r.log.Debug().Int("posts", len(page.Posts)).Time("fetched_at", page.FetchedAt).Msg("timeline served from cache")
			return page, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			r.log.Warn().Err(err).Msg("unreadable timeline cache, fetching")
		}
	}
	r.metrics.CacheMiss()

	posts, err := r.fetcher.FetchRecentPosts(ctx, "", r.limit)
	if err != nil {
		stale, _, cerr := cache.Latest[Page](r.cache, homeKey, 0)
		if cerr != nil {
			return Page{}, fmt.Errorf("failed to fetch timeline: %w", err)
		}
		r.log.Warn().Err(err).Time("fetched_at", stale.FetchedAt).Msg("timeline fetch failed, serving stale snapshot")
		stale.Cached = true
		stale.Stale = true
		return stale, nil
	}

	page := Page{Posts: posts, FetchedAt: time.Now()}
	if _, err := cache.SaveAt(r.cache, homeKey, page, page.FetchedAt); err != nil {
		r.log.Warn().Err(err).Msg("failed to cache timeline")
	} else if err := r.cache.Trim(homeKey, keepSnapshots); err != nil {
		r.log.Warn().Err(err).Msg("failed to trim timeline cache")
	}

	if r.sink != nil {
		if err := r.sink.SavePosts(ctx, posts); err != nil {
			r.log.Warn().Err(err).Msg("failed to store candidate posts")
		}
	}

	r.log.Info().Int("posts", len(posts)).Msg("timeline fetched")
	return page, nil
}

// Update writes changed posts into the newest snapshot, matching by id, so a
// later cached read sees them. The snapshot keeps its age. Without a
// snapshot there is nothing to update.
func (r *Reader) Update(posts []types.Post) error {
	page, savedAt, err := cache.Latest[Page](r.cache, homeKey, 0)
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	if err != nil {
		return err
	}

	byID := make(map[string]types.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	changed := 0
	for i, p := range page.Posts {
		if u, ok := byID[p.ID]; ok {
			page.Posts[i] = u
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	if _, err := cache.SaveAt(r.cache, homeKey, page, savedAt); err != nil {
		return fmt.Errorf("failed to update timeline cache: %w", err)
	}
	r.log.Debug().Int("posts", changed).Msg("timeline cache updated")
	return nil
}
