package resources

// The ACME Challenge resource represents an action that the client must
// take to authorize a given account for a specific identifier.
//
// For information about the Challenge resource see
// https://tools.ietf.org/html/rfc8555#section-7.1.5
//
// To understand the Challenge Status changes specified by RFC 8555 see
// https://tools.ietf.org/html/rfc8555#section-7.1.6
type Challenge struct {
	// The Type of the challenge. Only "dns-01" is acted on by the
	// enrollment engine.
	Type string `json:"type"`
	// The URL/ID of the challenge (provided by the server in the associated
	// Authorization).
	URL string `json:"url"`
	// The Token used for constructing the challenge response for this
	// challenge.
	Token string `json:"token"`
	// The Status of the challenge.
	Status string `json:"status"`
	// The Error associated with an invalid challenge.
	Error *Problem `json:"error,omitempty"`
}

// String returns the URL of the Challenge.
func (c Challenge) String() string {
	return c.URL
}

// DNSChallengeValidation holds the TXT record a dns-01 challenge requires:
// the record name and the expected value derived from the challenge token
// and the account key thumbprint per RFC 8555 §8.4. It is computed, never
// persisted.
type DNSChallengeValidation struct {
	// Fully qualified TXT record name, e.g. "_acme-challenge.example.com".
	Record string
	// The base64url SHA-256 digest of the key authorization.
	Value string
}
