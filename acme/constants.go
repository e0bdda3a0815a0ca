// Package acme provides ACME protocol constants. See RFC 8555.
package acme

const (
	// Directory constants
	// See https://tools.ietf.org/html/rfc8555#section-9.7.5

	// The ACME directory key for the newNonce endpoint
	NEW_NONCE_ENDPOINT = "newNonce"
	// The ACME directory key for the newAccount endpoint.
	NEW_ACCOUNT_ENDPOINT = "newAccount"
	// The ACME directory key for the newOrder endpoint.
	NEW_ORDER_ENDPOINT = "newOrder"
	// The ACME directory key for the revokeCert endpoint.
	REVOKE_CERT_ENDPOINT = "revokeCert"

	// The HTTP response header used by ACME to communicate a fresh nonce. See
	// https://tools.ietf.org/html/rfc8555#section-9.3
	REPLAY_NONCE_HEADER = "Replay-Nonce"

	// Resource status values shared by Orders, Authorizations and Challenges.
	// See https://tools.ietf.org/html/rfc8555#section-7.1.6
	STATUS_PENDING     = "pending"
	STATUS_PROCESSING  = "processing"
	STATUS_READY       = "ready"
	STATUS_VALID       = "valid"
	STATUS_INVALID     = "invalid"
	STATUS_EXPIRED     = "expired"
	STATUS_DEACTIVATED = "deactivated"

	// Problem document type URNs. See
	// https://tools.ietf.org/html/rfc8555#section-6.7
	PROBLEM_BAD_NONCE            = "urn:ietf:params:acme:error:badNonce"
	PROBLEM_RATE_LIMITED         = "urn:ietf:params:acme:error:rateLimited"
	PROBLEM_USER_ACTION_REQUIRED = "urn:ietf:params:acme:error:userActionRequired"

	// The challenge type implemented by the enrollment engine.
	CHALLENGE_DNS01 = "dns-01"

	// The DNS label prefix for dns-01 challenge TXT records. See
	// https://tools.ietf.org/html/rfc8555#section-8.4
	DNS01_RECORD_PREFIX = "_acme-challenge."
)
