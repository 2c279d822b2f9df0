package types

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// ActionType is the kind of user interaction recorded in the interaction log.
type ActionType string

const (
	ActionLike      ActionType = "like"
	ActionUnlike    ActionType = "unlike"
	ActionRepost    ActionType = "repost"
	ActionUnrepost  ActionType = "unrepost"
	ActionComment   ActionType = "comment"
	ActionView      ActionType = "view"
	ActionTimeSpent ActionType = "timeSpent"
	ActionLinkOpen  ActionType = "linkOpen"
)

// ActionTypes lists every valid action type.
var ActionTypes = []ActionType{
	ActionLike, ActionUnlike, ActionRepost, ActionUnrepost,
	ActionComment, ActionView, ActionTimeSpent, ActionLinkOpen,
}

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	return lo.Contains(ActionTypes, a)
}

// InteractionRecord is one immutable entry of the interaction log.
// Empty strings mean "not provided".
type InteractionRecord struct {
	ID              string        `json:"id"`
	PostID          string        `json:"post_id,omitempty"`
	Action          ActionType    `json:"action"`
	Timestamp       time.Time     `json:"timestamp"`
	AccountID       string        `json:"account_id,omitempty"`
	AuthorAccountID string        `json:"author_account_id,omitempty"`
	PostURL         string        `json:"post_url,omitempty"`
	Tags            []string      `json:"tags,omitempty"`
	ViewDuration    time.Duration `json:"view_duration,omitempty"` // timeSpent only
	LinkURL         string        `json:"link_url,omitempty"`      // linkOpen only
}

// AffinityKind selects which affinity aggregate a record belongs to.
type AffinityKind string

const (
	AffinityAuthor  AffinityKind = "author"
	AffinityHashtag AffinityKind = "hashtag"
)

// Affinity is a per-author or per-hashtag running score.
// Key is the author account id or the normalized tag.
type Affinity struct {
	Key              string    `json:"key"`
	Score            float64   `json:"score"`
	InteractionCount int       `json:"interaction_count"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Account is the author of a post.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url,omitempty"`
}

// Tag is a hashtag attached to a post.
type Tag struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Post is a status as returned by the server. Counts and flags default to
// zero values when the server omits them.
type Post struct {
	ID              string    `json:"id"`
	URI             string    `json:"uri,omitempty"`
	URL             string    `json:"url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Account         Account   `json:"account"`
	Content         string    `json:"content"`
	FavouritesCount int       `json:"favourites_count"`
	ReblogsCount    int       `json:"reblogs_count"`
	RepliesCount    int       `json:"replies_count"`
	Favourited      bool      `json:"favourited"`
	Reblogged       bool      `json:"reblogged"`
	Tags            []Tag     `json:"tags,omitempty"`
	Reblog          *Post     `json:"reblog,omitempty"`
}

// Target returns the post that actions and scoring apply to: the wrapped
// post for a reblog envelope, the post itself otherwise.
func (p *Post) Target() *Post {
	if p.Reblog != nil {
		return p.Reblog
	}
	return p
}

// TagNames returns the normalized, de-duplicated tag names of the post.
func (p *Post) TagNames() []string {
	names := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		names = append(names, t.Name)
	}
	return NormalizeTags(names)
}

// NormalizeTag lower-cases a hashtag and strips whitespace and a leading '#'.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// NormalizeTags normalizes every tag, drops empty ones and removes duplicates.
func NormalizeTags(tags []string) []string {
	out := lo.FilterMap(tags, func(t string, _ int) (string, bool) {
		n := NormalizeTag(t)
		return n, n != ""
	})
	return lo.Uniq(out)
}
