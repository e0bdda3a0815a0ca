package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	acmenet "github.com/certomat/certomat/net"
)

// linearBackOff produces base, 2*base, 3*base... delays. ACME servers
// shed load for short windows; linear growth recovers faster than the
// exponential default without hammering the server.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (lb *linearBackOff) NextBackOff() time.Duration {
	lb.attempt++
	return time.Duration(lb.attempt) * lb.base
}

func (lb *linearBackOff) Reset() {
	lb.attempt = 0
}

// isTransient reports whether the response status indicates a transient
// server-side condition worth retrying.
func isTransient(status int) bool {
	switch status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// withBackoff runs op under the client's linear backoff budget. Transport
// errors and transient HTTP statuses are retried; rateLimited problems and
// other ACME problem documents abort immediately. An exhausted budget
// surfaces as ErrServiceTooBusy.
func (c *Client) withBackoff(ctx context.Context, op func() (*acmenet.NetResponse, error)) (*acmenet.NetResponse, error) {
	attempt := 0
	wrapped := func() (*acmenet.NetResponse, error) {
		attempt++
		resp, err := op()
		if err != nil {
			if isRateLimited(err) {
				return nil, backoff.Permanent(ErrRateLimited)
			}
			var probErr *ProblemError
			if errors.As(err, &probErr) {
				// The server understood the request and rejected it.
				// Retrying an identical request will not change its mind.
				return nil, backoff.Permanent(err)
			}
			c.log.Debug("request failed, will retry",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		if resp.Response != nil && isTransient(resp.Response.StatusCode) {
			c.log.Debug("transient server error, will retry",
				zap.Int("attempt", attempt),
				zap.Int("status", resp.Response.StatusCode))
			return nil, errTransient
		}
		return resp, nil
	}

	lb := &linearBackOff{base: c.BackoffBase}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(lb, uint64(c.BackoffAttempts-1)), ctx)

	resp, err := backoff.RetryWithData(wrapped, bo)
	if err == errTransient {
		return nil, ErrServiceTooBusy
	}
	return resp, err
}

// errTransient is the internal marker for retryable server statuses.
var errTransient = backoffMarker("transient server error")

type backoffMarker string

func (m backoffMarker) Error() string { return string(m) }
