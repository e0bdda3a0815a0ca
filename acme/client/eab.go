package client

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/certomat/certomat/acme/keys"
)

// eabProtectedHeader is the protected header of an external account
// binding JWS. It carries no nonce: the binding is bound to the
// new-account URL and the CA-issued kid only.
// See https://tools.ietf.org/html/rfc8555#section-7.3.4
type eabProtectedHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	URL string `json:"url"`
}

func eabHash(alg string) (func() hash.Hash, error) {
	switch alg {
	case "HS256":
		return sha256.New, nil
	case "HS384":
		return sha512.New384, nil
	case "HS512":
		return sha512.New, nil
	}
	return nil, fmt.Errorf("%w: EAB algorithm %q", keys.ErrUnsupportedAlgorithm, alg)
}

// buildEAB produces the externalAccountBinding JWS for a new-account
// request: an HMAC over the account's public JWK, keyed with the
// CA-issued secret.
func buildEAB(conf *EABConfig, signer *keys.Signer, newAccountURL string) (json.RawMessage, error) {
	if conf.KeyID == "" || conf.HMACKey == "" || newAccountURL == "" || signer == nil {
		return nil, fmt.Errorf(
			"%w: EAB requires a key ID, HMAC key, signer and new-account URL", ErrMissingParameter)
	}
	hashNew, err := eabHash(conf.Algorithm)
	if err != nil {
		return nil, err
	}

	hmacKey, err := base64.RawURLEncoding.DecodeString(conf.HMACKey)
	if err != nil {
		return nil, fmt.Errorf("EAB HMAC key is not valid base64url: %w", err)
	}

	protected, err := json.Marshal(eabProtectedHeader{
		Alg: conf.Algorithm,
		Kid: conf.KeyID,
		URL: newAccountURL,
	})
	if err != nil {
		return nil, err
	}

	jwkJSON, err := signer.JWKJSON()
	if err != nil {
		return nil, err
	}

	protectedB64 := base64.RawURLEncoding.EncodeToString(protected)
	payloadB64 := base64.RawURLEncoding.EncodeToString(jwkJSON)

	mac := hmac.New(hashNew, hmacKey)
	mac.Write([]byte(protectedB64 + "." + payloadB64))
	sig := mac.Sum(nil)

	return json.Marshal(flatJWS{
		Protected: protectedB64,
		Payload:   payloadB64,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	})
}
