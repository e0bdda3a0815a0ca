// Package resources provides types for representing and interacting with
// ACME protocol resources.
package resources

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/certomat/certomat/acme/keys"
)

// Account holds information related to a single ACME Account resource. If
// the account has an empty ID it has not yet been created server-side with
// the ACME server using the client.Register function.
//
// The ID field holds the server assigned Account URL ("kid") that is
// assigned at the time of account creation and used as the JWS Key ID for
// authenticating ACME requests with the Account's registered keypair.
type Account struct {
	// The server assigned Account URL. This is used for the JWS KeyID when
	// authenticating ACME requests using the Account's registered keypair.
	ID string `json:"id"`
	// If not nil, a slice of one or more email addresses used as the ACME
	// Account's "mailto:" Contact addresses.
	Contact []string `json:"contact,omitempty"`
	// Whether the terms of service were agreed to during registration.
	TermsAgreed bool `json:"termsOfServiceAgreed"`
	// If not nil, a slice of URLs for Order resources the Account created
	// with the ACME server.
	Orders []string `json:"orders,omitempty"`

	// The account's key material. Persisted separately from the
	// registration record by the store, so it is not part of the JSON
	// representation here.
	Signer *keys.Signer `json:"-"`
}

// String returns the Account's ID or an empty string if it has not been
// created with the ACME server.
func (a Account) String() string {
	return a.ID
}

// NewAccount creates an ACME account in-memory. *Important:* the created
// Account is *not* registered with the ACME server until it is explicitly
// created server-side using a Client instance's Register function.
//
// The emails argument is a slice of zero or more email addresses that
// should be used as the Account's Contact information. The signer argument
// must not be nil; use keys.GenerateWithFallback to produce one.
func NewAccount(emails []string, signer *keys.Signer) (*Account, error) {
	if signer == nil {
		return nil, fmt.Errorf("account signer must not be nil")
	}

	var contacts []string
	for _, e := range emails {
		if e == "" {
			continue
		}
		contacts = append(contacts, fmt.Sprintf("mailto:%s", e))
	}

	return &Account{
		Contact: contacts,
		Signer:  signer,
	}, nil
}

// AccountID extracts the short account identifier from a kid URL: the last
// path segment of the Account's server-assigned URL. Used by the store to
// key per-account directories.
func (a Account) AccountID() string {
	if a.ID == "" {
		return ""
	}
	parsed, err := url.Parse(a.ID)
	if err != nil {
		return strings.TrimSpace(a.ID)
	}
	return path.Base(parsed.Path)
}
