package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/auth"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

func TestParseBlock(t *testing.T) {
	block, err := parseBlock("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block)

	_, err = parseBlock("-1")
	assert.Error(t, err)
}

func TestParsePrincipals(t *testing.T) {
	a, _ := principal.FromBytes([]byte{0x01})
	b, _ := principal.FromBytes([]byte{0x02})

	got, err := parsePrincipals([]string{a.String(), b.String()})
	require.NoError(t, err)
	assert.Equal(t, []principal.Principal{a, b}, got)

	_, err = parsePrincipals([]string{"not a principal"})
	assert.Error(t, err)
}

func TestRequestsAreSigned(t *testing.T) {
	key, err := auth.GenerateKey()
	require.NoError(t, err)
	signer, err := auth.NewSigner(key)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "identity.pem")
	require.NoError(t, auth.SaveKey(path, key))

	var seenAdminKey string
	verifier := auth.NewVerifier(time.Minute)
	server := httptest.NewServer(auth.Middleware(verifier, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAdminKey = r.Header.Get(auth.HeaderAdminKey)
		caller := auth.Caller(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.WhoAmIResponse{Principal: caller, Anonymous: caller.IsAnonymous()})
	})))
	defer server.Close()

	serverURL, identityFile, adminKey, timeout = server.URL, path, "secret", 5*time.Second
	defer func() { serverURL, identityFile, adminKey = "", "", "" }()

	var resp api.WhoAmIResponse
	require.NoError(t, get("/whoami", &resp))
	assert.False(t, resp.Anonymous)
	assert.Equal(t, signer.Principal(), resp.Principal)
	assert.Equal(t, "secret", seenAdminKey)

	identityFile = filepath.Join(dir, "missing.pem")
	require.NoError(t, get("/whoami", &resp))
	assert.True(t, resp.Anonymous)
}
