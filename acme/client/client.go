// Package client provides a low-level ACME v2 client driving the
// enrollment protocol flow: account registration, order creation,
// authorization fetching, challenge answering, finalization and
// certificate retrieval.
package client

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme/keys"
	"github.com/certomat/certomat/acme/resources"
	acmenet "github.com/certomat/certomat/net"
)

// Client allows interaction with an ACME server. A Client authenticates
// requests with the Account's keypair using JSON Web Signatures (JWS).
// Internally the Client uses the certomat/net package to perform HTTP
// requests to the ACME server.
//
// The Client's DirectoryURL field is a parsed *url.URL for the ACME
// server's directory. The client configures itself with the correct URLs
// for ACME operations using the directory resource accessed at this URL.
// See https://tools.ietf.org/html/rfc8555#section-7.1.1
//
// Because the ACME replay nonce is a single mutable "next token", the
// Client permits at most one in-flight protocol operation: every exported
// operation holds the operation gate for its full duration, internal
// retries included. This is a correctness requirement, not a throughput
// choice.
type Client struct {
	// A parsed *url.URL pointer for the ACME server's directory URL.
	DirectoryURL *url.URL
	// The Account used for authenticating ACME requests. An Account with
	// an empty ID has not been registered yet; Register populates it.
	Account *resources.Account

	// Timing and budget knobs for the retry layers. Populated with
	// defaults by NewClient; tests shrink them.
	PollInterval    time.Duration
	PollAttempts    int
	NonceRetryDelay time.Duration
	NonceAttempts   int
	BackoffBase     time.Duration
	BackoffAttempts int

	// opMu is the single-slot gate serializing logical protocol
	// operations. Held across a whole operation including its internal
	// nonce retries and polling.
	opMu sync.Mutex
	// the net object is used to make HTTP GET/POST/HEAD requests to the
	// ACME server.
	net *acmenet.ACMENet
	// directory is an in-memory representation of the ACME server's
	// directory object.
	directory map[string]any
	// nonce is the value of the last-seen Replay-Nonce header from the
	// ACME server's HTTP responses. Consumed by the next signing
	// operation; empty means a fresh one must be fetched.
	nonce string
	// eab holds the validated external account binding configuration, or
	// nil when the CA does not require pre-registration.
	eab *EABConfig
	// keyAlg is the preferred algorithm for a freshly generated account
	// key.
	keyAlg keys.Algorithm
	// contact is the normalized contact email for account registration.
	contact string

	log *zap.Logger
}

// EABConfig holds the CA-issued external account binding credentials for
// providers that pre-register clients out of band.
type EABConfig struct {
	// The CA-assigned EAB key identifier.
	KeyID string
	// The base64url-encoded HMAC key issued alongside the key identifier.
	HMACKey string
	// The MAC algorithm, one of HS256, HS384 or HS512.
	Algorithm string
}

// ClientConfig contains configuration options provided to NewClient when
// creating a Client instance.
type ClientConfig struct {
	// A fully qualified URL for the ACME server's directory resource. Must
	// include an HTTP/HTTPS protocol prefix.
	DirectoryURL string
	// An optional file path to one or more PEM encoded CA certificates to
	// be used as trust roots for HTTPS requests to the ACME server. If
	// empty the default system roots are used.
	CACert string
	// An optional email address used as the "mailto:" contact address when
	// registering an Account.
	ContactEmail string
	// The preferred account key algorithm. Defaults to ES256; account
	// bootstrap falls back to RS256 when generation for the preferred
	// algorithm fails.
	KeyAlgorithm string
	// External account binding credentials. Both EABKeyID and EABHMACKey
	// must be set together; configuring only one is an error because CAs
	// that require EAB reject incomplete bindings.
	EABKeyID     string
	EABHMACKey   string
	EABAlgorithm string
}

// normalize validates a ClientConfig.
func (conf *ClientConfig) normalize() error {
	// Clean up any junk whitespace that might have snuck in
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.ContactEmail = strings.TrimSpace(conf.ContactEmail)
	conf.EABKeyID = strings.TrimSpace(conf.EABKeyID)
	conf.EABHMACKey = strings.TrimSpace(conf.EABHMACKey)

	if conf.DirectoryURL == "" {
		return fmt.Errorf("%w: DirectoryURL must not be empty", ErrMissingParameter)
	}

	if _, err := url.Parse(conf.DirectoryURL); err != nil {
		return fmt.Errorf("DirectoryURL invalid: %s", err.Error())
	}

	if conf.ContactEmail != "" {
		addr, err := mail.ParseAddress(conf.ContactEmail)
		if err != nil {
			return fmt.Errorf("ContactEmail is invalid: %s", err.Error())
		}
		conf.ContactEmail = addr.Address
	}

	if conf.KeyAlgorithm == "" {
		conf.KeyAlgorithm = string(keys.ES256)
	}
	if _, err := keys.ParseAlgorithm(conf.KeyAlgorithm); err != nil {
		return err
	}

	// EAB is all-or-nothing: a half-configured binding would silently
	// produce accounts the CA rejects.
	if (conf.EABKeyID == "") != (conf.EABHMACKey == "") {
		return fmt.Errorf(
			"%w: EABKeyID and EABHMACKey must be configured together", ErrMissingParameter)
	}
	if conf.EABKeyID != "" && conf.EABAlgorithm == "" {
		conf.EABAlgorithm = "HS256"
	}

	return nil
}

// NewClient creates a Client instance from the given ClientConfig. If the
// config is not valid or if another error occurs it will be returned along
// with a nil Client. The logger may be nil.
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	net, err := acmenet.New(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("unable to create ACME net client: %w", err)
	}

	// Safe to throw away the returned err here: normalize() already
	// checked that url.Parse succeeds.
	dirURL, _ := url.Parse(config.DirectoryURL)

	client := &Client{
		DirectoryURL:    dirURL,
		PollInterval:    2 * time.Second,
		PollAttempts:    10,
		NonceRetryDelay: 500 * time.Millisecond,
		NonceAttempts:   3,
		BackoffBase:     time.Second,
		BackoffAttempts: 5,
		net:             net,
		keyAlg:          keys.Algorithm(config.KeyAlgorithm),
		contact:         config.ContactEmail,
		log:             logger,
	}

	if config.EABKeyID != "" {
		client.eab = &EABConfig{
			KeyID:     config.EABKeyID,
			HMACKey:   config.EABHMACKey,
			Algorithm: config.EABAlgorithm,
		}
	}

	return client, nil
}

// AccountID returns the kid URL of the Client's Account, or an empty
// string when no account has been registered yet.
func (c *Client) AccountID() string {
	if c.Account == nil {
		return ""
	}
	return c.Account.ID
}
