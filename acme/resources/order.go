package resources

// The Order resource represents a collection of identifiers that an account
// wishes to create a Certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
//
// To understand the Status changes specified by ACME for the Order resource
// see https://tools.ietf.org/html/rfc8555#section-7.1.6
type Order struct {
	// The server-assigned ID (a URL) identifying the Order. Some CAs omit
	// the Location header on new-order responses, in which case the ID is
	// empty and the Order can not be re-fetched for polling.
	ID string `json:"-"`
	// The Status of the Order.
	Status string `json:"status"`
	// The Identifiers the Order wishes to finalize a Certificate for once
	// the Order is ready.
	Identifiers []Identifier `json:"identifiers"`
	// A list of URLs for Authorization resources the server specifies for
	// the Order Identifiers. Immutable once fetched; only Status fields
	// mutate via polling.
	Authorizations []string `json:"authorizations"`
	// A URL used to Finalize the Order with a CSR once the Order has a
	// status of "ready".
	Finalize string `json:"finalize"`
	// A URL used to fetch the Certificate issued by the server for the
	// Order after being Finalized. The Certificate field should be present
	// and not-empty when the Order has a status of "valid".
	Certificate string `json:"certificate,omitempty"`
	// An optional RFC 3339 timestamp requesting the notAfter field of the
	// issued certificate.
	NotAfter string `json:"notAfter,omitempty"`
	// The Error associated with an order the server failed to process.
	Error *Problem `json:"error,omitempty"`
}

// String returns the Order's ID URL.
func (o Order) String() string {
	return o.ID
}
