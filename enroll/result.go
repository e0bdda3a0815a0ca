package enroll

import (
	"crypto/rand"
	"encoding/hex"
)

// Status communicates the outcome of an enrollment request to the
// caller.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusFailure      Status = "failure"
	StatusNotSupported Status = "not-supported"
)

// Result is the single value returned for every enrollment request.
// Multi-domain orders never report partial success: any unresolved
// identifier fails the whole order.
type Result struct {
	Status Status
	// Message is a human-readable outcome description. For failures it
	// carries the terminal error text.
	Message string
	// CertificatePEM holds the issued certificate chain on success.
	CertificatePEM string
	// RequestID correlates log lines with the returned result.
	RequestID string
}

func newRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func failure(requestID string, err error) *Result {
	return &Result{
		Status:    StatusFailure,
		Message:   err.Error(),
		RequestID: requestID,
	}
}
