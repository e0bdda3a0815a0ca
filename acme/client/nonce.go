package client

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
)

// Nonce returns the cached "next nonce", fetching a fresh one from the
// newNonce endpoint when none is cached. The returned value is consumed:
// the next call either uses the nonce stashed from a later response or
// refreshes again. See https://tools.ietf.org/html/rfc8555#section-6.5
func (c *Client) Nonce(ctx context.Context) (string, error) {
	if c.nonce == "" {
		if err := c.RefreshNonce(ctx); err != nil {
			return "", err
		}
	}
	n := c.nonce
	c.nonce = ""
	return n, nil
}

// RefreshNonce fetches a new nonce from the ACME server's newNonce
// endpoint and stores it in the client's memory to be used by the next
// signing operation.
//
// See https://tools.ietf.org/html/rfc8555#section-7.2
func (c *Client) RefreshNonce(ctx context.Context) error {
	nonceURL, ok := c.GetEndpointURL(ctx, acme.NEW_NONCE_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_NONCE_ENDPOINT)
	}

	resp, err := c.net.HeadURL(ctx, nonceURL)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.NEW_NONCE_ENDPOINT, resp.StatusCode, http.StatusOK)
	}

	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return fmt.Errorf("%q returned no %q header value",
			acme.NEW_NONCE_ENDPOINT, acme.REPLAY_NONCE_HEADER)
	}

	c.nonce = nonce
	c.log.Debug("updated nonce", zap.String("nonce", nonce))
	return nil
}

// invalidateNonce discards the cached nonce, forcing a refresh before the
// next signed request. Called when the server reports badNonce.
func (c *Client) invalidateNonce() {
	c.nonce = ""
}

// stashNonce stores the Replay-Nonce header of a response, if present, for
// the next signing operation.
func (c *Client) stashNonce(resp *http.Response) {
	if resp == nil {
		return
	}
	if n := resp.Header.Get(acme.REPLAY_NONCE_HEADER); n != "" {
		c.nonce = n
	}
}
