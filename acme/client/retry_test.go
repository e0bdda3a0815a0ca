package client

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certomat/certomat/acme"
)

func TestPostRetriesBadNonce(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var attempts atomic.Int64
	ts.mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			ts.problem(w, http.StatusBadRequest, acme.PROBLEM_BAD_NONCE, "stale nonce")
			return
		}
		ts.addNonce(w)
		w.Write([]byte(`{"status":"ok"}`))
	})

	resp, err := c.post(context.Background(), ts.url("/flaky"), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Response.StatusCode)
	assert.Equal(t, int64(3), attempts.Load())
}

func TestPostBadNonceExhaustion(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var attempts atomic.Int64
	ts.mux.HandleFunc("/always-stale", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		ts.problem(w, http.StatusBadRequest, acme.PROBLEM_BAD_NONCE, "stale nonce")
	})

	_, err := c.post(context.Background(), ts.url("/always-stale"), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, int64(c.NonceAttempts), attempts.Load())
}

func TestPostRateLimitedNeverRetried(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var attempts atomic.Int64
	ts.mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		ts.problem(w, http.StatusTooManyRequests, acme.PROBLEM_RATE_LIMITED, "slow down")
	})

	_, err := c.post(context.Background(), ts.url("/limited"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int64(1), attempts.Load())
}

func TestPostTransientServerErrorRetried(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var attempts atomic.Int64
	ts.mux.HandleFunc("/wobbly", func(w http.ResponseWriter, r *http.Request) {
		ts.addNonce(w)
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	resp, err := c.post(context.Background(), ts.url("/wobbly"), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Response.StatusCode)
	assert.Equal(t, int64(3), attempts.Load())
}

func TestPostServiceTooBusy(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var attempts atomic.Int64
	ts.mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		ts.addNonce(w)
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.post(context.Background(), ts.url("/down"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrServiceTooBusy)
	assert.Equal(t, int64(c.BackoffAttempts), attempts.Load())
}

func TestPostOtherProblemNotRetried(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var attempts atomic.Int64
	ts.mux.HandleFunc("/rejected", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		ts.problem(w, http.StatusForbidden,
			"urn:ietf:params:acme:error:unauthorized", "nope")
	})

	_, err := c.post(context.Background(), ts.url("/rejected"), []byte(`{}`))
	var probErr *ProblemError
	require.ErrorAs(t, err, &probErr)
	assert.Equal(t, http.StatusForbidden, probErr.HTTPStatus)
	assert.Equal(t, int64(1), attempts.Load())
}
