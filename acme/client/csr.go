package client

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
)

// CSR generates a DER-encoded certificate signing request for the given
// names, signed by the given key. The first name becomes the subject
// common name and all names are carried as DNS SANs.
func CSR(names []string, key crypto.Signer) ([]byte, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: CSR requires at least one name", ErrMissingParameter)
	}
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}
	return x509.CreateCertificateRequest(rand.Reader, template, key)
}
