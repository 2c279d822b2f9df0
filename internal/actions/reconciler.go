package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/types"
)

// ErrActionInFlight is returned when the same action is already pending on a post.
var ErrActionInFlight = errors.New("action already in flight for post")

// Error is returned after a failed action has been rolled back.
type Error struct {
	Action types.ActionType
	PostID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on post %s failed: %v", e.Action, e.PostID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Performer carries out actions against the server. like and repost are the
// desired new state. A nil post means the server returned no snapshot.
type Performer interface {
	ToggleLike(ctx context.Context, postID string, like bool) (*types.Post, error)
	ToggleRepost(ctx context.Context, postID string, repost bool) (*types.Post, error)
	PostComment(ctx context.Context, postID, content string) (*types.Post, error)
}

// InteractionLogger receives one record per successful action.
type InteractionLogger interface {
	LogInteraction(ctx context.Context, rec types.InteractionRecord)
}

// Reconciler applies actions optimistically to in-memory posts and reconciles
// them with the server's answer, or rolls them back when the server fails.
type Reconciler struct {
	performer Performer
	logger    InteractionLogger
	accountID string
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu       sync.Locker
	inFlight map[flightKey]struct{}
}

type flightKey struct {
	postID string
	kind   string
}

type Option func(*Reconciler)

// WithAccountID sets the acting account recorded on each interaction.
func WithAccountID(id string) Option { return func(r *Reconciler) { r.accountID = id } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

// WithLocker makes the reconciler guard post mutation with l, so that the
// owner of the posts can read them under the same lock.
func WithLocker(l sync.Locker) Option { return func(r *Reconciler) { r.mu = l } }

func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = l.With().Str("component", "actions").Logger() }
}

func NewReconciler(performer Performer, logger InteractionLogger, opts ...Option) *Reconciler {
	r := &Reconciler{
		performer: performer,
		logger:    logger,
		log:       zerolog.Nop(),
		mu:        &sync.Mutex{},
		inFlight:  make(map[flightKey]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// toggle describes the flag and counter one toggle action operates on.
type toggle struct {
	kind    string
	on, off types.ActionType
	flag    func(p *types.Post) *bool
	count   func(p *types.Post) *int
	perform func(ctx context.Context, postID string, state bool) (*types.Post, error)
}

// ToggleLike flips the favourite state of post, or of the post it reblogs.
func (r *Reconciler) ToggleLike(ctx context.Context, post *types.Post) error {
	return r.toggle(ctx, post, toggle{
		kind:    "like",
		on:      types.ActionLike,
		off:     types.ActionUnlike,
		flag:    func(p *types.Post) *bool { return &p.Favourited },
		count:   func(p *types.Post) *int { return &p.FavouritesCount },
		perform: r.performer.ToggleLike,
	})
}

// ToggleRepost flips the reblog state of post, or of the post it reblogs.
func (r *Reconciler) ToggleRepost(ctx context.Context, post *types.Post) error {
	return r.toggle(ctx, post, toggle{
		kind:    "repost",
		on:      types.ActionRepost,
		off:     types.ActionUnrepost,
		flag:    func(p *types.Post) *bool { return &p.Reblogged },
		count:   func(p *types.Post) *int { return &p.ReblogsCount },
		perform: r.performer.ToggleRepost,
	})
}

func (r *Reconciler) toggle(ctx context.Context, post *types.Post, t toggle) error {
	r.mu.Lock()
	target := post.Target()
	key := flightKey{postID: target.ID, kind: t.kind}
	if _, busy := r.inFlight[key]; busy {
		r.mu.Unlock()
		r.metrics.Action(t.on, "skipped")
		return ErrActionInFlight
	}
	r.inFlight[key] = struct{}{}

	prevFlag, prevCount := *t.flag(target), *t.count(target)
	newFlag := !prevFlag
	*t.flag(target) = newFlag
	if newFlag {
		*t.count(target) = prevCount + 1
	} else {
		// Counts are never shown negative; the server answer overwrites this.
		*t.count(target) = max(0, prevCount-1)
	}
	postID := target.ID
	r.mu.Unlock()

	snapshot, err := t.perform(ctx, postID, newFlag)

	r.mu.Lock()
	delete(r.inFlight, key)
	action := t.off
	if newFlag {
		action = t.on
	}
	if err != nil {
		*t.flag(target), *t.count(target) = prevFlag, prevCount
		r.mu.Unlock()
		r.metrics.Action(action, "rolled_back")
		r.log.Warn().Err(err).Str("post_id", postID).Str("action", string(action)).Msg("action failed, rolled back")
		return &Error{Action: action, PostID: postID, Err: err}
	}
	if snapshot != nil {
		auth := snapshot.Target()
		*t.flag(target) = *t.flag(auth)
		*t.count(target) = *t.count(auth)
		target.RepliesCount = auth.RepliesCount
		if *t.flag(target) != newFlag {
			// The server disagreed; record what it now says.
			action = t.off
			if *t.flag(target) {
				action = t.on
			}
		}
	}
	rec := recordFor(target, action, r.accountID)
	r.mu.Unlock()

	r.logger.LogInteraction(ctx, rec)
	r.metrics.Action(action, "ok")
	return nil
}

// Comment replies to post, or to the post it reblogs. Blank content is
// ignored without contacting the server.
func (r *Reconciler) Comment(ctx context.Context, post *types.Post, content string) error {
	if strings.TrimSpace(content) == "" {
		r.metrics.Action(types.ActionComment, "skipped")
		return nil
	}

	r.mu.Lock()
	target := post.Target()
	postID := target.ID
	target.RepliesCount++
	r.mu.Unlock()

	if _, err := r.performer.PostComment(ctx, postID, content); err != nil {
		r.mu.Lock()
		target.RepliesCount--
		r.mu.Unlock()
		r.metrics.Action(types.ActionComment, "rolled_back")
		r.log.Warn().Err(err).Str("post_id", postID).Msg("comment failed, rolled back")
		return &Error{Action: types.ActionComment, PostID: postID, Err: err}
	}

	r.mu.Lock()
	rec := recordFor(target, types.ActionComment, r.accountID)
	r.mu.Unlock()

	r.logger.LogInteraction(ctx, rec)
	r.metrics.Action(types.ActionComment, "ok")
	return nil
}

func recordFor(p *types.Post, action types.ActionType, accountID string) types.InteractionRecord {
	return types.InteractionRecord{
		PostID:          p.ID,
		Action:          action,
		AccountID:       accountID,
		AuthorAccountID: p.Account.ID,
		PostURL:         p.URL,
		Tags:            p.TagNames(),
	}
}
