// Package auth identifies callers. Requests are signed with an ed25519 key
// and the caller is the self-authenticating principal of that key. Unsigned
// requests are anonymous.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/unit-provisioner/pkg/principal"
)

const (
	HeaderKey       = "X-Principal-Key"
	HeaderTimestamp = "X-Principal-Timestamp"
	HeaderSignature = "X-Principal-Signature"
	HeaderAdminKey  = "X-Admin-Key"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature expired")
	ErrInvalidKey       = errors.New("invalid key")
)

// Signer signs outgoing requests
type Signer struct {
	key       ed25519.PrivateKey
	principal principal.Principal
}

// NewSigner creates a signer for key
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	p, err := principal.SelfAuthenticating(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, principal: p}, nil
}

// Principal returns the identity requests are signed as
func (s *Signer) Principal() principal.Principal {
	return s.principal
}

// Sign adds the signature headers to req. body must be the exact request body.
func (s *Signer) Sign(req *http.Request, body []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := ed25519.Sign(s.key, signingPayload(req.Method, req.URL.RequestURI(), ts, body))

	req.Header.Set(HeaderKey, base64.StdEncoding.EncodeToString(s.key.Public().(ed25519.PublicKey)))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
}

// Verifier checks request signatures
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier accepts signatures made at most maxSkew away from now
func NewVerifier(maxSkew time.Duration) *Verifier {
	return &Verifier{maxSkew: maxSkew, now: time.Now}
}

// Verify returns the principal that signed r, or the anonymous principal
// when r carries no signature at all
func (v *Verifier) Verify(r *http.Request, body []byte) (principal.Principal, error) {
	keyHeader := r.Header.Get(HeaderKey)
	tsHeader := r.Header.Get(HeaderTimestamp)
	sigHeader := r.Header.Get(HeaderSignature)
	if keyHeader == "" && tsHeader == "" && sigHeader == "" {
		return principal.Anonymous, nil
	}

	pub, err := base64.StdEncoding.DecodeString(keyHeader)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return principal.Principal{}, ErrInvalidKey
	}
	sig, err := base64.StdEncoding.DecodeString(sigHeader)
	if err != nil {
		return principal.Principal{}, ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return principal.Principal{}, ErrInvalidSignature
	}

	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.maxSkew > 0 && skew > v.maxSkew {
		return principal.Principal{}, ErrSignatureExpired
	}

	if !ed25519.Verify(pub, signingPayload(r.Method, r.URL.RequestURI(), tsHeader, body), sig) {
		return principal.Principal{}, ErrInvalidSignature
	}
	return principal.SelfAuthenticating(ed25519.PublicKey(pub))
}

func signingPayload(method, uri, ts string, body []byte) []byte {
	digest := sha256.Sum256(body)
	var b bytes.Buffer
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(uri)
	b.WriteByte('\n')
	b.WriteString(ts)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(digest[:]))
	return b.Bytes()
}

// GenerateKey creates a new identity key
func GenerateKey() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// SaveKey writes key to path as a PKCS#8 PEM file readable only by the owner
func SaveKey(path string, key ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// LoadKey reads a key written by SaveKey
func LoadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidKey
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// MaintainerKey is an optional shared secret admin requests must present in
// addition to a maintainer signature. Only its bcrypt hash is kept.
type MaintainerKey struct {
	hash []byte
}

// NewMaintainerKey wraps a bcrypt hash. An empty hash disables the check.
func NewMaintainerKey(hash string) (*MaintainerKey, error) {
	if hash == "" {
		return &MaintainerKey{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid maintainer key hash: %w", err)
	}
	return &MaintainerKey{hash: []byte(hash)}, nil
}

// GenerateMaintainerKey returns a new random key and its hash
func GenerateMaintainerKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	key = base64.URLEncoding.EncodeToString(keyBytes)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash key: %w", err)
	}
	return key, string(h), nil
}

// Enabled reports whether a key is configured
func (m *MaintainerKey) Enabled() bool {
	return m != nil && len(m.hash) > 0
}

// Validate checks key against the stored hash. It always passes when no key
// is configured.
func (m *MaintainerKey) Validate(key string) bool {
	if !m.Enabled() {
		return true
	}
	return bcrypt.CompareHashAndPassword(m.hash, []byte(key)) == nil
}
