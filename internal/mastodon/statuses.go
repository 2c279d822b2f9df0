package mastodon

import (
	"context"
	"strconv"

	"github.com/ibeckermayer/tootrank/internal/types"
)

const (
	homeTimeline    = "/api/v1/timelines/home"
	statuses        = "/api/v1/statuses"
	statusAction    = "/api/v1/statuses/{id}/{action}"
	maxTimelinePage = 40
)

// FetchRecentPosts returns up to limit posts from the home timeline, older
// than maxID when it is set.
// https://docs.joinmastodon.org/methods/timelines/#home
func (c *Client) FetchRecentPosts(ctx context.Context, maxID string, limit int) ([]types.Post, error) {
	if limit <= 0 || limit > maxTimelinePage {
		limit = maxTimelinePage
	}

	req := c.r(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&[]types.Post{})
	if maxID != "" {
		req.SetQueryParam("max_id", maxID)
	}

	res, err := req.Get(homeTimeline)
	if err != nil {
		return nil, err
	}
	if err := check(res); err != nil {
		return nil, err
	}

	return *res.Result().(*[]types.Post), nil
}

// ToggleLike favourites or unfavourites a status and returns its new state.
func (c *Client) ToggleLike(ctx context.Context, postID string, like bool) (*types.Post, error) {
	action := "unfavourite"
	if like {
		action = "favourite"
	}
	return c.statusAction(ctx, postID, action)
}

// ToggleRepost reblogs or unreblogs a status. Reblogging answers with the new
// reblog wrapping the original; unreblogging answers with the original.
func (c *Client) ToggleRepost(ctx context.Context, postID string, repost bool) (*types.Post, error) {
	action := "unreblog"
	if repost {
		action = "reblog"
	}
	return c.statusAction(ctx, postID, action)
}

// PostComment publishes content as a reply to postID and returns the reply.
func (c *Client) PostComment(ctx context.Context, postID, content string) (*types.Post, error) {
	res, err := c.r(ctx).
		SetBody(map[string]string{
			"status":         content,
			"in_reply_to_id": postID,
		}).
		SetResult(&types.Post{}).
		Post(statuses)
	if err != nil {
		return nil, err
	}
	if err := check(res); err != nil {
		return nil, err
	}
	return res.Result().(*types.Post), nil
}

func (c *Client) statusAction(ctx context.Context, postID, action string) (*types.Post, error) {
	res, err := c.r(ctx).
		SetPathParam("id", postID).
		SetPathParam("action", action).
		SetResult(&types.Post{}).
		Post(statusAction)
	if err != nil {
		return nil, err
	}
	if err := check(res); err != nil {
		return nil, err
	}
	return res.Result().(*types.Post), nil
}
