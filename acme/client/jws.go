package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/certomat/certomat/acme/keys"
)

// SigningOptions control how a JWS is produced for an ACME request.
// Exactly one of EmbedJWK or KeyID must be used: new-account requests
// embed the public JWK, everything afterwards references the account kid.
// See https://tools.ietf.org/html/rfc8555#section-6.2
type SigningOptions struct {
	// Signer holds the keypair producing the signature.
	Signer *keys.Signer
	// EmbedJWK embeds the public JWK in the protected header instead of a
	// kid reference.
	EmbedJWK bool
	// KeyID is the account URL used as the "kid" header value when
	// EmbedJWK is false.
	KeyID string
	// Nonce is the anti-replay nonce for the request.
	Nonce string
	// URL is the request URL, bound into the protected header.
	URL string
}

func (opts *SigningOptions) validate() error {
	if opts.Signer == nil {
		return fmt.Errorf("%w: SigningOptions requires a Signer", ErrMissingParameter)
	}
	if opts.URL == "" {
		return fmt.Errorf("%w: SigningOptions requires a URL", ErrMissingParameter)
	}
	if opts.Nonce == "" {
		return fmt.Errorf("%w: SigningOptions requires a Nonce", ErrMissingParameter)
	}
	if !opts.EmbedJWK && opts.KeyID == "" {
		return fmt.Errorf("%w: SigningOptions requires a KeyID when EmbedJWK is false", ErrMissingParameter)
	}
	if opts.EmbedJWK && opts.KeyID != "" {
		return fmt.Errorf("KeyID and EmbedJWK are mutually exclusive")
	}
	return nil
}

// jwkProtectedHeader is the protected header for requests authenticated
// with an embedded JWK. Field order matters: some server implementations
// expect the jwk member first, so the struct serializes it that way.
type jwkProtectedHeader struct {
	JWK   json.RawMessage `json:"jwk"`
	Alg   string          `json:"alg"`
	URL   string          `json:"url"`
	Nonce string          `json:"nonce"`
}

// kidProtectedHeader is the protected header for requests authenticated
// with an account kid reference.
type kidProtectedHeader struct {
	Alg   string `json:"alg"`
	Kid   string `json:"kid"`
	URL   string `json:"url"`
	Nonce string `json:"nonce"`
}

// flatJWS is the flattened JWS JSON serialization ACME requires.
// See https://tools.ietf.org/html/rfc7515#section-7.2.2
type flatJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// signJWS produces the flattened JWS serialization of payload under the
// given options. A nil payload produces the empty-string payload of a
// POST-as-GET request; an empty non-nil payload stays "" too.
func signJWS(payload []byte, opts SigningOptions) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var protected []byte
	var err error
	if opts.EmbedJWK {
		jwkJSON, jwkErr := opts.Signer.JWKJSON()
		if jwkErr != nil {
			return nil, jwkErr
		}
		protected, err = json.Marshal(jwkProtectedHeader{
			JWK:   jwkJSON,
			Alg:   string(opts.Signer.Algorithm),
			URL:   opts.URL,
			Nonce: opts.Nonce,
		})
	} else {
		protected, err = json.Marshal(kidProtectedHeader{
			Alg:   string(opts.Signer.Algorithm),
			Kid:   opts.KeyID,
			URL:   opts.URL,
			Nonce: opts.Nonce,
		})
	}
	if err != nil {
		return nil, err
	}

	protectedB64 := base64.RawURLEncoding.EncodeToString(protected)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)

	signingInput := protectedB64 + "." + payloadB64
	sig, err := opts.Signer.Sign([]byte(signingInput))
	if err != nil {
		return nil, err
	}

	return json.Marshal(flatJWS{
		Protected: protectedB64,
		Payload:   payloadB64,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	})
}
