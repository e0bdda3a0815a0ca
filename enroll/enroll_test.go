package enroll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certomat/certomat/acme/client"
	"github.com/certomat/certomat/acme/keys"
	"github.com/certomat/certomat/acme/store"
	"github.com/certomat/certomat/dns"
)

const testCertPEM = "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"

// fakeACME is a scripted ACME server covering the happy enrollment path:
// registration, one order with one dns-01 authorization, finalization and
// certificate download.
type fakeACME struct {
	srv *httptest.Server
	mux *http.ServeMux

	nonces     atomic.Int64
	registered atomic.Int64
	// challengeDNS01 controls whether the authorization offers a dns-01
	// challenge.
	challengeDNS01 bool
	// orderReady flips once the challenge has been answered.
	orderReady atomic.Bool
	// orderValid flips once the order has been finalized.
	orderValid atomic.Bool
}

func newFakeACME(t *testing.T) *fakeACME {
	t.Helper()
	fa := &fakeACME{mux: http.NewServeMux(), challengeDNS01: true}
	fa.srv = httptest.NewServer(fa.mux)
	t.Cleanup(fa.srv.Close)

	nonce := func(w http.ResponseWriter) {
		w.Header().Set("Replay-Nonce", fmt.Sprintf("nonce-%d", fa.nonces.Add(1)))
	}

	fa.mux.HandleFunc("/dir", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"newNonce":   fa.srv.URL + "/new-nonce",
			"newAccount": fa.srv.URL + "/new-acct",
			"newOrder":   fa.srv.URL + "/new-order",
			"revokeCert": fa.srv.URL + "/revoke-cert",
		})
	})
	fa.mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		nonce(w)
		w.WriteHeader(http.StatusNoContent)
	})
	fa.mux.HandleFunc("/new-acct", func(w http.ResponseWriter, r *http.Request) {
		fa.registered.Add(1)
		nonce(w)
		w.Header().Set("Location", fa.srv.URL+"/acct/1")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})
	fa.mux.HandleFunc("/new-order", func(w http.ResponseWriter, r *http.Request) {
		nonce(w)
		w.Header().Set("Location", fa.srv.URL+"/order/1")
		w.WriteHeader(http.StatusCreated)
		fa.writeOrder(w)
	})
	fa.mux.HandleFunc("/order/1", func(w http.ResponseWriter, r *http.Request) {
		nonce(w)
		fa.writeOrder(w)
	})
	fa.mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		nonce(w)
		var challenges []map[string]string
		if fa.challengeDNS01 {
			challenges = append(challenges, map[string]string{
				"type":   "dns-01",
				"url":    fa.srv.URL + "/chal/1",
				"token":  "token-value",
				"status": "pending",
			})
		}
		challenges = append(challenges, map[string]string{
			"type":   "http-01",
			"url":    fa.srv.URL + "/chal/2",
			"token":  "token-value",
			"status": "pending",
		})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "pending",
			"identifier": map[string]string{"type": "dns", "value": "example.com"},
			"challenges": challenges,
		})
	})
	fa.mux.HandleFunc("/chal/1", func(w http.ResponseWriter, r *http.Request) {
		fa.orderReady.Store(true)
		nonce(w)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":   "dns-01",
			"url":    fa.srv.URL + "/chal/1",
			"token":  "token-value",
			"status": "valid",
		})
	})
	fa.mux.HandleFunc("/order/1/finalize", func(w http.ResponseWriter, r *http.Request) {
		fa.orderValid.Store(true)
		nonce(w)
		fa.writeOrder(w)
	})
	fa.mux.HandleFunc("/cert/1", func(w http.ResponseWriter, r *http.Request) {
		nonce(w)
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		w.Write([]byte(testCertPEM))
	})
	return fa
}

func (fa *fakeACME) writeOrder(w http.ResponseWriter) {
	status := "pending"
	if fa.orderReady.Load() {
		status = "ready"
	}
	order := map[string]any{
		"status":         status,
		"identifiers":    []map[string]string{{"type": "dns", "value": "example.com"}},
		"authorizations": []string{fa.srv.URL + "/authz/1"},
		"finalize":       fa.srv.URL + "/order/1/finalize",
	}
	if fa.orderValid.Load() {
		order["status"] = "valid"
		order["certificate"] = fa.srv.URL + "/cert/1"
	}
	_ = json.NewEncoder(w).Encode(order)
}

// fakeProvider records the TXT records an enrollment creates and
// deletes.
type fakeProvider struct {
	outOfBand bool
	created   map[string]string
	deleted   []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{created: map[string]string{}}
}

func (p *fakeProvider) OutOfBand() bool { return p.outOfBand }

func (p *fakeProvider) CreateRecord(_ context.Context, record, value string) error {
	p.created[record] = value
	return nil
}

func (p *fakeProvider) DeleteRecord(_ context.Context, record, _ string) error {
	p.deleted = append(p.deleted, record)
	return nil
}

var _ dns.Provider = (*fakeProvider)(nil)

func newTestEnroller(t *testing.T, fa *fakeACME, provider dns.Provider, s *store.Store) *Enroller {
	t.Helper()
	c, err := client.NewClient(client.ClientConfig{
		DirectoryURL: fa.srv.URL + "/dir",
		ContactEmail: "admin@example.com",
	}, nil)
	require.NoError(t, err)
	c.PollInterval = time.Millisecond
	c.NonceRetryDelay = time.Millisecond
	c.BackoffBase = time.Millisecond

	e := New(c, s, provider, nil, nil)
	e.SettleDelay = 0
	e.FallbackDelay = 0
	return e
}

func testCSR(t *testing.T) []byte {
	t.Helper()
	key, err := keys.Generate(keys.ES256)
	require.NoError(t, err)
	csrDER, err := client.CSR([]string{"example.com"}, key.Key())
	require.NoError(t, err)
	return csrDER
}

func TestEnroll(t *testing.T) {
	fa := newFakeACME(t)
	provider := newFakeProvider()
	e := newTestEnroller(t, fa, provider, nil)

	result := e.Enroll(context.Background(), testCSR(t), "example.com", nil)
	require.Equal(t, StatusSuccess, result.Status, "message: %s", result.Message)
	assert.Equal(t, testCertPEM, result.CertificatePEM)
	assert.Len(t, result.RequestID, 16)

	// The challenge record was published and cleaned up again.
	value, ok := provider.created["_acme-challenge.example.com"]
	require.True(t, ok)
	assert.NotEmpty(t, value)
	assert.Equal(t, []string{"_acme-challenge.example.com"}, provider.deleted)
}

func TestEnrollNoDNS01Challenge(t *testing.T) {
	fa := newFakeACME(t)
	fa.challengeDNS01 = false
	provider := newFakeProvider()
	e := newTestEnroller(t, fa, provider, nil)

	result := e.Enroll(context.Background(), testCSR(t), "example.com", nil)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Contains(t, result.Message, "dns-01")
	assert.Empty(t, result.CertificatePEM)
}

func TestEnrollNoIdentifiers(t *testing.T) {
	fa := newFakeACME(t)
	e := newTestEnroller(t, fa, newFakeProvider(), nil)

	result := e.Enroll(context.Background(), testCSR(t), "", nil)
	assert.Equal(t, StatusFailure, result.Status)
}

func TestEnrollReusesStoredAccount(t *testing.T) {
	fa := newFakeACME(t)
	baseDir := t.TempDir()

	first := newTestEnroller(t, fa, newFakeProvider(),
		store.New(baseDir, "hunter2", nil))
	result := first.Enroll(context.Background(), testCSR(t), "example.com", nil)
	require.Equal(t, StatusSuccess, result.Status, "message: %s", result.Message)
	require.Equal(t, int64(1), fa.registered.Load())

	// A second enroller sharing the store must pick up the cached
	// account instead of registering again.
	fa.orderReady.Store(false)
	fa.orderValid.Store(false)
	second := newTestEnroller(t, fa, newFakeProvider(),
		store.New(baseDir, "hunter2", nil))
	result = second.Enroll(context.Background(), testCSR(t), "example.com", nil)
	require.Equal(t, StatusSuccess, result.Status, "message: %s", result.Message)
	assert.Equal(t, int64(1), fa.registered.Load())
}

func TestEnrollOutOfBandProviderSkipsCleanup(t *testing.T) {
	fa := newFakeACME(t)
	provider := newFakeProvider()
	provider.outOfBand = true
	e := newTestEnroller(t, fa, provider, nil)

	result := e.Enroll(context.Background(), testCSR(t), "example.com", nil)
	require.Equal(t, StatusSuccess, result.Status, "message: %s", result.Message)
	assert.Empty(t, provider.deleted)
}

func TestSynchronizeAndRevokeNotSupported(t *testing.T) {
	fa := newFakeACME(t)
	e := newTestEnroller(t, fa, newFakeProvider(), nil)

	result := e.Synchronize(context.Background())
	assert.Equal(t, StatusNotSupported, result.Status)
	assert.NotEmpty(t, result.RequestID)

	result = e.Revoke(context.Background())
	assert.Equal(t, StatusNotSupported, result.Status)
}

func TestDedupeNames(t *testing.T) {
	names := dedupeNames("example.com",
		[]string{"www.example.com", "example.com", " ", "api.example.com"})
	assert.Equal(t,
		[]string{"example.com", "www.example.com", "api.example.com"}, names)
}

func TestCertPEMWrapsDER(t *testing.T) {
	pemOut := certPEM([]byte{0x30, 0x82, 0x01, 0x0a})
	assert.True(t, strings.HasPrefix(pemOut, "-----BEGIN CERTIFICATE-----"))

	assert.Equal(t, testCertPEM, certPEM([]byte(testCertPEM)))
}
