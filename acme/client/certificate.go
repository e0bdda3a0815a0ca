package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
)

// GetCertificate downloads the certificate chain for a finalized order
// with a POST-as-GET request to the order's certificate URL. The raw
// response body is returned; CAs serve PEM chains here but the bytes are
// passed through untouched.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4.2
func (c *Client) GetCertificate(ctx context.Context, certURL string) ([]byte, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if certURL == "" {
		return nil, fmt.Errorf("%w: order has no certificate URL", ErrMissingParameter)
	}

	resp, err := c.postAsGet(ctx, certURL)
	if err != nil {
		return nil, err
	}
	if resp.Response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certificate URL %q returned HTTP status %d, expected %d",
			certURL, resp.Response.StatusCode, http.StatusOK)
	}

	c.log.Info("downloaded certificate",
		zap.String("url", certURL),
		zap.Int("bytes", len(resp.RespBody)))
	return resp.RespBody, nil
}

// revokeRequest is the payload POSTed to the revokeCert endpoint.
// See https://tools.ietf.org/html/rfc8555#section-7.6
type revokeRequest struct {
	Certificate string `json:"certificate"`
	Reason      int    `json:"reason,omitempty"`
}

// RevokeCertificate asks the server to revoke the given DER-encoded
// certificate with the given RFC 5280 reason code, authenticated with the
// Client's account key.
func (c *Client) RevokeCertificate(ctx context.Context, certDER []byte, reason int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if len(certDER) == 0 {
		return fmt.Errorf("%w: certificate must not be empty", ErrMissingParameter)
	}

	revokeURL, ok := c.GetEndpointURL(ctx, acme.REVOKE_CERT_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"missing %q entry in ACME server directory", acme.REVOKE_CERT_ENDPOINT)
	}

	payload, err := json.Marshal(revokeRequest{
		Certificate: base64.RawURLEncoding.EncodeToString(certDER),
		Reason:      reason,
	})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, revokeURL, payload)
	if err != nil {
		return err
	}
	if resp.Response.StatusCode != http.StatusOK {
		return fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.REVOKE_CERT_ENDPOINT, resp.Response.StatusCode, http.StatusOK)
	}
	c.log.Info("revoked certificate", zap.Int("reason", reason))
	return nil
}
