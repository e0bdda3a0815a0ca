package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	c.Account.ID = ""

	var sawJWKFirst bool
	ts.mux.HandleFunc("/new-acct", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var jws flatJWS
		require.NoError(t, json.Unmarshal(body, &jws))
		protected, err := base64.RawURLEncoding.DecodeString(jws.Protected)
		require.NoError(t, err)
		sawJWKFirst = len(protected) > 7 && string(protected[:7]) == `{"jwk":`

		ts.addNonce(w)
		w.Header().Set("Location", ts.url("/acct/42"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "valid",
			"contact": []string{"mailto:admin@example.com"},
			"orders":  []string{},
		})
	})

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, ts.url("/acct/42"), c.Account.ID)
	assert.True(t, sawJWKFirst, "new-account request must embed the JWK first")

	// A second Register with an established account is a no-op.
	require.NoError(t, c.Register(context.Background()))
}

func TestRegisterGeneratesAccount(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	c.Account = nil
	c.contact = "admin@example.com"

	ts.mux.HandleFunc("/new-acct", func(w http.ResponseWriter, r *http.Request) {
		ts.addNonce(w)
		w.Header().Set("Location", ts.url("/acct/7"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Register(context.Background()))
	require.NotNil(t, c.Account)
	require.NotNil(t, c.Account.Signer)
	assert.Equal(t, []string{"mailto:admin@example.com"}, c.Account.Contact)
}

func TestRegisterWithEAB(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	c.Account.ID = ""
	c.eab = &EABConfig{
		KeyID:     "kid-1",
		HMACKey:   base64.RawURLEncoding.EncodeToString([]byte("secret")),
		Algorithm: "HS256",
	}

	var sawEAB bool
	ts.mux.HandleFunc("/new-acct", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var jws flatJWS
		require.NoError(t, json.Unmarshal(body, &jws))
		payload, err := base64.RawURLEncoding.DecodeString(jws.Payload)
		require.NoError(t, err)
		var request map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(payload, &request))
		_, sawEAB = request["externalAccountBinding"]

		ts.addNonce(w)
		w.Header().Set("Location", ts.url("/acct/8"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Register(context.Background()))
	assert.True(t, sawEAB, "new-account payload must carry the external account binding")
}

func TestRegisterNoLocation(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	c.Account.ID = ""

	ts.mux.HandleFunc("/new-acct", func(w http.ResponseWriter, r *http.Request) {
		ts.addNonce(w)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})

	assert.Error(t, c.Register(context.Background()))
}
