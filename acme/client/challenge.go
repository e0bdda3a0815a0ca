package client

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
	"github.com/certomat/certomat/acme/resources"
)

// DecodeChallengeValidation computes the DNS record a dns-01 challenge
// for the given identifier requires: the record name under the
// _acme-challenge prefix and the base64url SHA-256 digest of the key
// authorization. Wildcard identifiers validate at the base domain.
//
// See https://tools.ietf.org/html/rfc8555#section-8.4
func (c *Client) DecodeChallengeValidation(ident resources.Identifier, chal resources.Challenge) (*resources.DNSChallengeValidation, error) {
	if chal.Type != acme.CHALLENGE_DNS01 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChallengeType, chal.Type)
	}
	if c.Account == nil || c.Account.Signer == nil {
		return nil, fmt.Errorf("%w: client has no account key", ErrMissingParameter)
	}

	keyAuth, err := c.Account.Signer.KeyAuthorization(chal.Token)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(keyAuth))

	domain := strings.TrimPrefix(ident.Value, "*.")
	return &resources.DNSChallengeValidation{
		Record: acme.DNS01_RECORD_PREFIX + domain,
		Value:  base64.RawURLEncoding.EncodeToString(digest[:]),
	}, nil
}

// AnswerChallenge tells the server the challenge is ready for validation
// by POSTing an empty JSON object to the challenge URL, then polls the
// challenge until it settles out of the pending and processing statuses.
// The settled challenge is returned; an invalid challenge is an error
// carrying the server's problem detail when one was reported.
//
// See https://tools.ietf.org/html/rfc8555#section-7.5.1
func (c *Client) AnswerChallenge(ctx context.Context, chal resources.Challenge) (*resources.Challenge, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if chal.URL == "" {
		return nil, fmt.Errorf("%w: challenge has no URL", ErrMissingParameter)
	}

	resp, err := c.post(ctx, chal.URL, []byte("{}"))
	if err != nil {
		return nil, err
	}

	var answered resources.Challenge
	if err := json.Unmarshal(resp.RespBody, &answered); err != nil {
		return nil, err
	}
	if answered.URL == "" {
		answered.URL = chal.URL
	}

	for attempt := 0; attempt < c.PollAttempts; attempt++ {
		if answered.Status != acme.STATUS_PENDING && answered.Status != acme.STATUS_PROCESSING {
			break
		}
		select {
		case <-ctx.Done():
			return &answered, ctx.Err()
		case <-time.After(c.PollInterval):
		}

		polled, err := c.getChallenge(ctx, chal.URL)
		if err != nil {
			// Transient fetch failures during polling are not fatal to
			// the validation in flight; the last attempt's error is.
			if attempt == c.PollAttempts-1 {
				return &answered, err
			}
			c.log.Debug("challenge poll failed",
				zap.String("url", chal.URL),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		answered = *polled
	}

	switch answered.Status {
	case acme.STATUS_VALID:
		c.log.Info("challenge validated", zap.String("url", answered.URL))
		return &answered, nil
	case acme.STATUS_INVALID:
		if answered.Error != nil {
			return &answered, fmt.Errorf("%w: %s",
				ErrOrderValidationFailed, answered.Error.Error())
		}
		return &answered, fmt.Errorf("%w: challenge %q is invalid",
			ErrOrderValidationFailed, answered.URL)
	}
	return &answered, fmt.Errorf("challenge %q still %q after %d poll attempts",
		answered.URL, answered.Status, c.PollAttempts)
}

func (c *Client) getChallenge(ctx context.Context, chalURL string) (*resources.Challenge, error) {
	resp, err := c.postAsGet(ctx, chalURL)
	if err != nil {
		return nil, err
	}
	var chal resources.Challenge
	if err := json.Unmarshal(resp.RespBody, &chal); err != nil {
		return nil, err
	}
	if chal.URL == "" {
		chal.URL = chalURL
	}
	return &chal, nil
}
