package mastodon

import (
	"context"

	"github.com/ibeckermayer/tootrank/internal/types"
)

const verifyCredentials = "/api/v1/accounts/verify_credentials"

// VerifyCredentials returns the account the access token belongs to.
func (c *Client) VerifyCredentials(ctx context.Context) (*types.Account, error) {
	res, err := c.r(ctx).
		SetResult(&types.Account{}).
		Get(verifyCredentials)
	if err != nil {
		return nil, err
	}
	if err := check(res); err != nil {
		return nil, err
	}
	return res.Result().(*types.Account), nil
}
