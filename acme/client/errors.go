package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/certomat/certomat/acme"
	"github.com/certomat/certomat/acme/resources"
	acmenet "github.com/certomat/certomat/net"
)

var (
	// ErrOrderCreationFailed indicates the server rejected a new-order
	// request. Fatal for the enrollment.
	ErrOrderCreationFailed = errors.New("order creation failed")
	// ErrOrderValidationFailed indicates an order reached the "invalid"
	// status. Fatal and non-retryable.
	ErrOrderValidationFailed = errors.New("order validation failed")
	// ErrUnsupportedChallengeType indicates a challenge with an empty or
	// unrecognized type was asked to be decoded.
	ErrUnsupportedChallengeType = errors.New("unsupported challenge type")
	// ErrRateLimited indicates the server returned a rateLimited problem.
	// Never retried; propagates immediately.
	ErrRateLimited = errors.New("rate limited by ACME server")
	// ErrServiceTooBusy indicates transient server errors persisted past
	// the backoff attempt budget.
	ErrServiceTooBusy = errors.New("ACME service too busy")
	// ErrUserActionRequired indicates a userActionRequired problem, which
	// must surface verbatim to the operator.
	ErrUserActionRequired = errors.New("user action required by ACME server")
	// ErrMissingParameter indicates required configuration input was
	// absent. Raised before any network call.
	ErrMissingParameter = errors.New("missing required parameter")
)

// ProblemError carries an ACME problem document along with the HTTP status
// of the response it arrived in. See RFC 8555 §6.7.
type ProblemError struct {
	Problem    *resources.Problem
	HTTPStatus int
}

func (e *ProblemError) Error() string {
	return fmt.Sprintf("server returned HTTP %d: %s", e.HTTPStatus, e.Problem.Error())
}

// IsType reports whether the problem document has the given type URN.
func (e *ProblemError) IsType(urn string) bool {
	return e.Problem != nil && e.Problem.Type == urn
}

// problemFromResponse extracts a problem document from a non-2xx response,
// or nil when the response carries none.
func problemFromResponse(resp *acmenet.NetResponse) *ProblemError {
	if resp == nil || resp.Response == nil {
		return nil
	}
	if resp.Response.StatusCode < http.StatusBadRequest {
		return nil
	}
	var prob resources.Problem
	if err := json.Unmarshal(resp.RespBody, &prob); err != nil || prob.Type == "" {
		return nil
	}
	if prob.Status == 0 {
		prob.Status = resp.Response.StatusCode
	}
	return &ProblemError{Problem: &prob, HTTPStatus: resp.Response.StatusCode}
}

func isBadNonce(err error) bool {
	var probErr *ProblemError
	return errors.As(err, &probErr) && probErr.IsType(acme.PROBLEM_BAD_NONCE)
}

func isRateLimited(err error) bool {
	var probErr *ProblemError
	if errors.As(err, &probErr) {
		return probErr.IsType(acme.PROBLEM_RATE_LIMITED) ||
			probErr.HTTPStatus == http.StatusTooManyRequests
	}
	return false
}

func isUserActionRequired(err error) bool {
	var probErr *ProblemError
	return errors.As(err, &probErr) && probErr.IsType(acme.PROBLEM_USER_ACTION_REQUIRED)
}
