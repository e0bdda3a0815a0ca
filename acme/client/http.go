package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	acmenet "github.com/certomat/certomat/net"
)

// signOpts returns the SigningOptions for a request to url, using the
// account kid when the account is registered and embedding the JWK
// otherwise.
func (c *Client) signOpts(url string) (SigningOptions, error) {
	if c.Account == nil || c.Account.Signer == nil {
		return SigningOptions{}, fmt.Errorf(
			"%w: client has no account key", ErrMissingParameter)
	}
	opts := SigningOptions{
		Signer: c.Account.Signer,
		URL:    url,
	}
	if c.Account.ID == "" {
		opts.EmbedJWK = true
	} else {
		opts.KeyID = c.Account.ID
	}
	return opts, nil
}

// postJWS signs payload for the given URL and POSTs it, retrying with a
// fresh nonce when the server rejects the nonce. Every response's
// Replay-Nonce header is stashed for the next request. A non-2xx response
// carrying a problem document is returned as a *ProblemError alongside
// the response.
func (c *Client) postJWS(ctx context.Context, url string, payload []byte, opts SigningOptions) (*acmenet.NetResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.NonceAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.NonceRetryDelay):
			}
		}

		nonce, err := c.Nonce(ctx)
		if err != nil {
			return nil, err
		}
		opts.Nonce = nonce

		body, err := signJWS(payload, opts)
		if err != nil {
			return nil, err
		}

		resp, err := c.net.PostURL(ctx, url, body)
		if err != nil {
			return nil, err
		}
		c.stashNonce(resp.Response)

		if probErr := problemFromResponse(resp); probErr != nil {
			if isBadNonce(probErr) {
				c.log.Debug("server rejected nonce, retrying",
					zap.Int("attempt", attempt),
					zap.String("url", url))
				c.invalidateNonce()
				lastErr = probErr
				continue
			}
			return resp, probErr
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request to %q failed after %d nonce attempts: %w",
		url, c.NonceAttempts, lastErr)
}

// post is the standard request path for protocol operations: a signed
// POST under both the nonce retry loop and the linear backoff budget.
func (c *Client) post(ctx context.Context, url string, payload []byte) (*acmenet.NetResponse, error) {
	opts, err := c.signOpts(url)
	if err != nil {
		return nil, err
	}
	return c.withBackoff(ctx, func() (*acmenet.NetResponse, error) {
		return c.postJWS(ctx, url, payload, opts)
	})
}

// postAsGet fetches a resource with a POST-as-GET request: a signed POST
// with an empty payload. See https://tools.ietf.org/html/rfc8555#section-6.3
func (c *Client) postAsGet(ctx context.Context, url string) (*acmenet.NetResponse, error) {
	return c.post(ctx, url, nil)
}
