package auth

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/unit-provisioner/pkg/principal"
)

func newSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)
	return s
}

func TestSignAndVerify(t *testing.T) {
	signer := newSigner(t)
	body := []byte(`{"funding_block":42}`)

	req := httptest.NewRequest(http.MethodPost, "/provision?x=1", bytes.NewReader(body))
	signer.Sign(req, body)

	caller, err := NewVerifier(time.Minute).Verify(req, body)
	require.NoError(t, err)
	assert.Equal(t, signer.Principal(), caller)
	assert.False(t, caller.IsAnonymous())
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := newSigner(t)
	body := []byte(`{"funding_block":42}`)
	v := NewVerifier(time.Minute)

	t.Run("body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/provision", nil)
		signer.Sign(req, body)
		_, err := v.Verify(req, []byte(`{"funding_block":43}`))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/provision", nil)
		signer.Sign(req, body)
		req.URL.Path = "/top-up"
		_, err := v.Verify(req, body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/provision", nil)
		signer.Sign(req, body)
		req.Header.Set(HeaderKey, "not-base64!")
		_, err := v.Verify(req, body)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("stale", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/provision", nil)
		signer.Sign(req, body)
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
		_, err := v.Verify(req, body)
		assert.ErrorIs(t, err, ErrSignatureExpired)
	})
}

func TestUnsignedIsAnonymous(t *testing.T) {
	caller, err := NewVerifier(time.Minute).Verify(httptest.NewRequest(http.MethodGet, "/units", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, principal.Anonymous, caller)
}

func TestMiddleware(t *testing.T) {
	signer := newSigner(t)
	var seen principal.Principal
	var seenBody []byte
	handler := Middleware(NewVerifier(time.Minute), 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Caller(r.Context())
		seenBody, _ = io.ReadAll(r.Body)
	}))

	body := []byte(`{"owners":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/provision", bytes.NewReader(body))
	signer.Sign(req, body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, signer.Principal(), seen)
	assert.Equal(t, body, seenBody)

	req = httptest.NewRequest(http.MethodPost, "/provision", bytes.NewReader(body))
	signer.Sign(req, []byte("other"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"Unauthorized"`)
}

func TestKeyFileRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "identity.pem")

	require.NoError(t, SaveKey(path, key))
	loaded, err := LoadKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestMaintainerKey(t *testing.T) {
	disabled, err := NewMaintainerKey("")
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())
	assert.True(t, disabled.Validate(""))

	key, hash, err := GenerateMaintainerKey()
	require.NoError(t, err)
	mk, err := NewMaintainerKey(hash)
	require.NoError(t, err)
	assert.True(t, mk.Validate(key))
	assert.False(t, mk.Validate(key+"x"))

	_, err = NewMaintainerKey("plaintext")
	assert.Error(t, err)

	handler := RequireMaintainerKey(mk)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPut, "/admin/relay", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(HeaderAdminKey, key)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
