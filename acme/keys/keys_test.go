package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"ES256", "ES384", "ES512", "RS256", "RS384", "RS512"} {
		alg, err := ParseAlgorithm(name)
		require.NoError(t, err)
		assert.Equal(t, Algorithm(name), alg)
	}

	_, err := ParseAlgorithm("HS256")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestSignECDSA(t *testing.T) {
	testCases := []struct {
		alg    Algorithm
		octets int
	}{
		{ES256, 32},
		{ES384, 48},
		{ES512, 66},
	}
	for _, tc := range testCases {
		t.Run(string(tc.alg), func(t *testing.T) {
			signer, err := Generate(tc.alg)
			require.NoError(t, err)

			data := []byte("signing input")
			sig, err := signer.Sign(data)
			require.NoError(t, err)
			require.Len(t, sig, 2*tc.octets)

			pub := signer.Public().(*ecdsa.PublicKey)
			r := new(big.Int).SetBytes(sig[:tc.octets])
			s := new(big.Int).SetBytes(sig[tc.octets:])

			hasher := tc.alg.hash().New()
			hasher.Write(data)
			assert.True(t, ecdsa.Verify(pub, hasher.Sum(nil), r, s))
		})
	}
}

func TestSignRSA(t *testing.T) {
	signer, err := Generate(RS256)
	require.NoError(t, err)

	data := []byte("signing input")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	digest := sha256.Sum256(data)
	pub := signer.Public().(*rsa.PublicKey)
	assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig))
}

func TestGenerateWithFallback(t *testing.T) {
	signer, err := GenerateWithFallback(ES384)
	require.NoError(t, err)
	assert.Equal(t, ES384, signer.Algorithm)
}

func TestFromKeyMismatch(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = FromKey(ES384, key)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	signer, err := FromKey(ES256, key)
	require.NoError(t, err)
	assert.Equal(t, ES256, signer.Algorithm)
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{ES256, RS256} {
		t.Run(string(alg), func(t *testing.T) {
			signer, err := Generate(alg)
			require.NoError(t, err)

			blob, err := signer.Export()
			require.NoError(t, err)

			imported, err := Import(blob)
			require.NoError(t, err)
			assert.Equal(t, signer.Algorithm, imported.Algorithm)

			origThumb, err := signer.Thumbprint()
			require.NoError(t, err)
			importedThumb, err := imported.Thumbprint()
			require.NoError(t, err)
			assert.Equal(t, origThumb, importedThumb)
		})
	}
}

func TestImportGarbage(t *testing.T) {
	_, err := Import([]byte("not json"))
	assert.Error(t, err)

	_, err = Import([]byte(`{"algorithm":"ES256","keyType":"dsa","key":""}`))
	assert.Error(t, err)
}

func TestKeyAuthorization(t *testing.T) {
	signer, err := Generate(ES256)
	require.NoError(t, err)

	thumbprint, err := signer.Thumbprint()
	require.NoError(t, err)

	keyAuth, err := signer.KeyAuthorization("token-value")
	require.NoError(t, err)
	assert.Equal(t, "token-value."+thumbprint, keyAuth)
}
