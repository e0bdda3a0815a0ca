package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
	"github.com/certomat/certomat/acme/keys"
	"github.com/certomat/certomat/acme/resources"
)

// newAccountRequest is the payload POSTed to the newAccount endpoint.
// See https://tools.ietf.org/html/rfc8555#section-7.3
type newAccountRequest struct {
	Contact                []string        `json:"contact,omitempty"`
	ToSAgreed              bool            `json:"termsOfServiceAgreed"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// Register creates a new ACME account with the server and attaches it to
// the Client. When the Client has no account yet a fresh keypair is
// generated for the configured algorithm, falling back to RS256 if that
// fails. Registering an account that already has an ID is a no-op.
func (c *Client) Register(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Account != nil && c.Account.ID != "" {
		return nil
	}

	if c.Account == nil {
		signer, err := keys.GenerateWithFallback(c.keyAlg)
		if err != nil {
			return fmt.Errorf("unable to generate account key: %w", err)
		}
		var emails []string
		if c.contact != "" {
			emails = []string{c.contact}
		}
		acct, err := resources.NewAccount(emails, signer)
		if err != nil {
			return err
		}
		c.Account = acct
	}

	newAcctURL, ok := c.GetEndpointURL(ctx, acme.NEW_ACCOUNT_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_ACCOUNT_ENDPOINT)
	}

	request := newAccountRequest{
		Contact:   c.Account.Contact,
		ToSAgreed: true,
	}
	if c.eab != nil {
		eabJWS, err := buildEAB(c.eab, c.Account.Signer, newAcctURL)
		if err != nil {
			return err
		}
		request.ExternalAccountBinding = eabJWS
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, newAcctURL, payload)
	if err != nil {
		if isUserActionRequired(err) {
			return fmt.Errorf("%w: %s", ErrUserActionRequired, err.Error())
		}
		return err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated && respOb.StatusCode != http.StatusOK {
		return fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.NEW_ACCOUNT_ENDPOINT, respOb.StatusCode, http.StatusCreated)
	}

	locHeader := respOb.Header.Get("Location")
	if locHeader == "" {
		return fmt.Errorf("%q returned no Location header", acme.NEW_ACCOUNT_ENDPOINT)
	}

	// The response body fills in server-assigned fields like the orders
	// URL. The key identifier only ever comes from the Location header.
	if err := json.Unmarshal(resp.RespBody, c.Account); err != nil {
		c.log.Debug("unable to unmarshal account response body", zap.Error(err))
	}
	c.Account.ID = locHeader

	c.log.Info("registered account",
		zap.String("id", c.Account.ID),
		zap.Strings("contact", c.Account.Contact))
	return nil
}
