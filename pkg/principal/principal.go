// Package principal implements the opaque caller/account identity used across
// the provisioner, its textual encoding and the canonical ledger account
// derived from it.
package principal

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// MaxLength is the maximum number of raw bytes in a principal
const MaxLength = 29

const (
	tagSelfAuthenticating = 0x02
	tagAnonymous          = 0x04
)

var (
	ErrTooLong          = errors.New("principal too long")
	ErrInvalidChecksum  = errors.New("principal checksum mismatch")
	ErrNotCanonical     = errors.New("principal text is not in canonical form")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is an opaque identity. The zero value is the empty (management)
// principal; it is comparable and usable as a map key.
type Principal struct {
	raw string
}

// Anonymous is the identity of an unauthenticated caller
var Anonymous = Principal{raw: string([]byte{tagAnonymous})}

// FromBytes builds a principal from its raw bytes
func FromBytes(b []byte) (Principal, error) {
	if len(b) > MaxLength {
		return Principal{}, ErrTooLong
	}
	return Principal{raw: string(b)}, nil
}

// MustFromText parses s and panics on failure. Intended for constants and tests.
func MustFromText(s string) Principal {
	p, err := FromText(s)
	if err != nil {
		panic(fmt.Sprintf("principal %q: %v", s, err))
	}
	return p
}

// FromText parses the dashed, checksummed base32 form
func FromText(s string) (Principal, error) {
	compact := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	decoded, err := encoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("decode principal: %w", err)
	}
	if len(decoded) < 4 {
		return Principal{}, ErrInvalidChecksum
	}
	raw := decoded[4:]
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(raw) {
		return Principal{}, ErrInvalidChecksum
	}
	p, err := FromBytes(raw)
	if err != nil {
		return Principal{}, err
	}
	if p.String() != s {
		return Principal{}, ErrNotCanonical
	}
	return p, nil
}

// SelfAuthenticating derives the principal owned by an ed25519 key pair
func SelfAuthenticating(pub ed25519.PublicKey) (Principal, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Principal{}, ErrInvalidPublicKey
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return Principal{}, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum224(der)
	return Principal{raw: string(append(sum[:], tagSelfAuthenticating))}, nil
}

// Bytes returns a copy of the raw bytes
func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

// IsAnonymous reports whether p is the anonymous principal
func (p Principal) IsAnonymous() bool {
	return p == Anonymous
}

// Compare orders principals by their raw bytes
func (p Principal) Compare(other Principal) int {
	return bytes.Compare([]byte(p.raw), []byte(other.raw))
}

// String returns the canonical textual form
func (p Principal) String() string {
	buf := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE([]byte(p.raw)))
	copy(buf[4:], p.raw)

	text := strings.ToLower(encoding.EncodeToString(buf))
	var out strings.Builder
	for i := 0; i < len(text); i += 5 {
		if i > 0 {
			out.WriteByte('-')
		}
		end := i + 5
		if end > len(text) {
			end = len(text)
		}
		out.WriteString(text[i:end])
	}
	return out.String()
}

// MarshalText implements encoding.TextMarshaler
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := FromText(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// KeyCodec encodes principals as store keys. Encoded keys sort the same way
// Compare does.
type KeyCodec struct{}

// EncodeKey returns the raw principal bytes
func (KeyCodec) EncodeKey(p Principal) []byte {
	return p.Bytes()
}

// DecodeKey parses raw principal bytes
func (KeyCodec) DecodeKey(b []byte) (Principal, error) {
	return FromBytes(b)
}
