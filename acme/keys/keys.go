// Package keys offers key material for ACME accounts: generation, JWS
// signatures, JWKs, thumbprints and serialization for persistence.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrUnsupportedAlgorithm is returned for key or signature algorithm
// identifiers outside the supported set.
var ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

// Algorithm identifies a JWS signature algorithm from RFC 7518 §3.1.
type Algorithm string

const (
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
)

// ParseAlgorithm maps a string identifier to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case ES256, ES384, ES512, RS256, RS384, RS512:
		return Algorithm(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

func (a Algorithm) hash() crypto.Hash {
	switch a {
	case ES256, RS256:
		return crypto.SHA256
	case ES384, RS384:
		return crypto.SHA384
	case ES512, RS512:
		return crypto.SHA512
	}
	return 0
}

func (a Algorithm) curve() elliptic.Curve {
	switch a {
	case ES256:
		return elliptic.P256()
	case ES384:
		return elliptic.P384()
	case ES512:
		return elliptic.P521()
	}
	return nil
}

// Signer owns one account keypair and produces JWS signatures for its
// algorithm. It is immutable once created; rotation means a new Signer.
type Signer struct {
	Algorithm Algorithm
	key       crypto.Signer
}

// Generate creates a fresh keypair for the given algorithm.
func Generate(alg Algorithm) (*Signer, error) {
	switch alg {
	case ES256, ES384, ES512:
		key, err := ecdsa.GenerateKey(alg.curve(), rand.Reader)
		if err != nil {
			return nil, err
		}
		return &Signer{Algorithm: alg, key: key}, nil
	case RS256, RS384, RS512:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		return &Signer{Algorithm: alg, key: key}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

// GenerateWithFallback creates a keypair for the preferred algorithm and
// falls back to RS256 when the preferred generation fails. Account
// bootstrap relies on this fallback.
func GenerateWithFallback(preferred Algorithm) (*Signer, error) {
	signer, err := Generate(preferred)
	if err == nil {
		return signer, nil
	}
	if preferred == RS256 {
		return nil, err
	}
	return Generate(RS256)
}

// FromKey wraps an existing private key for the given algorithm. The key
// type must match the algorithm family.
func FromKey(alg Algorithm, key crypto.Signer) (*Signer, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		if alg.curve() == nil || k.Curve != alg.curve() {
			return nil, fmt.Errorf("%w: key curve does not match %q", ErrUnsupportedAlgorithm, alg)
		}
	case *rsa.PrivateKey:
		switch alg {
		case RS256, RS384, RS512:
		default:
			return nil, fmt.Errorf("%w: RSA key with %q", ErrUnsupportedAlgorithm, alg)
		}
	default:
		return nil, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, key)
	}
	return &Signer{Algorithm: alg, key: key}, nil
}

// Public returns the public component of the keypair.
func (s *Signer) Public() crypto.PublicKey {
	return s.key.Public()
}

// Key returns the wrapped private key. Used for CSR signing in tests and
// callers that need the raw crypto.Signer.
func (s *Signer) Key() crypto.Signer {
	return s.key
}

// Sign produces a JWS signature over data: the raw r||s concatenation for
// ECDSA keys, a PKCS#1 v1.5 signature for RSA keys. The digest algorithm
// follows the Signer's Algorithm.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	hash := s.Algorithm.hash()
	hasher := hash.New()
	hasher.Write(data)
	digest := hasher.Sum(nil)

	switch key := s.key.(type) {
	case *ecdsa.PrivateKey:
		r, sv, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		// JWS wants fixed-width big-endian r||s, padded to the curve's
		// octet length.
		octets := (key.Curve.Params().BitSize + 7) / 8
		sig := make([]byte, 2*octets)
		r.FillBytes(sig[:octets])
		sv.FillBytes(sig[octets:])
		return sig, nil
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	}
	return nil, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, s.key)
}

func algForKey(key crypto.Signer) string {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case *rsa.PrivateKey:
		return "RSA"
	}
	return "unknown"
}

// JWK returns the public JSON Web Key for the Signer, suitable for
// embedding in JWS protected headers and EAB payloads.
func (s *Signer) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       s.key.Public(),
		Algorithm: algForKey(s.key),
	}
}

// JWKJSON returns the serialized public JWK.
func (s *Signer) JWKJSON() ([]byte, error) {
	jwk := s.JWK()
	return json.Marshal(&jwk)
}

// Thumbprint returns the base64url-encoded SHA-256 JWK thumbprint of the
// public key. See RFC 7638.
func (s *Signer) Thumbprint() (string, error) {
	jwk := s.JWK()
	thumbBytes, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(thumbBytes), nil
}

// KeyAuthorization computes the key authorization for a challenge token.
// See https://tools.ietf.org/html/rfc8555#section-8.1
func (s *Signer) KeyAuthorization(token string) (string, error) {
	thumbprint, err := s.Thumbprint()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", token, thumbprint), nil
}

type keyRecord struct {
	Algorithm string `json:"algorithm"`
	KeyType   string `json:"keyType"`
	Key       []byte `json:"key"`
}

// Export serializes the full key material (public and private) for
// persistence. The blob round-trips through Import.
func (s *Signer) Export() ([]byte, error) {
	var keyBytes []byte
	var keyType string
	var err error
	switch k := s.key.(type) {
	case *ecdsa.PrivateKey:
		keyType = "ecdsa"
		keyBytes, err = x509.MarshalECPrivateKey(k)
	case *rsa.PrivateKey:
		keyType = "rsa"
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
	default:
		err = fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, k)
	}
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(keyRecord{
		Algorithm: string(s.Algorithm),
		KeyType:   keyType,
		Key:       keyBytes,
	}, "", "  ")
}

// Import deserializes key material produced by Export.
func Import(blob []byte) (*Signer, error) {
	var record keyRecord
	if err := json.Unmarshal(blob, &record); err != nil {
		return nil, err
	}
	alg, err := ParseAlgorithm(record.Algorithm)
	if err != nil {
		return nil, err
	}
	var key crypto.Signer
	switch record.KeyType {
	case "ecdsa":
		key, err = x509.ParseECPrivateKey(record.Key)
	case "rsa":
		key, err = x509.ParsePKCS1PrivateKey(record.Key)
	default:
		err = fmt.Errorf("unknown key type %q", record.KeyType)
	}
	if err != nil {
		return nil, err
	}
	return FromKey(alg, key)
}
