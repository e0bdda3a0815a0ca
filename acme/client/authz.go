package client

import (
	"context"
	"encoding/json"

	"github.com/certomat/certomat/acme/resources"
)

// GetAuthorization fetches an authorization resource by URL with a
// POST-as-GET request.
//
// See https://tools.ietf.org/html/rfc8555#section-7.5
func (c *Client) GetAuthorization(ctx context.Context, authzURL string) (*resources.Authorization, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.getAuthorization(ctx, authzURL)
}

func (c *Client) getAuthorization(ctx context.Context, authzURL string) (*resources.Authorization, error) {
	resp, err := c.postAsGet(ctx, authzURL)
	if err != nil {
		return nil, err
	}
	var authz resources.Authorization
	if err := json.Unmarshal(resp.RespBody, &authz); err != nil {
		return nil, err
	}
	authz.ID = authzURL
	return &authz, nil
}
