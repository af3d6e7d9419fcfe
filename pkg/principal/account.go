package principal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
)

// SubaccountSize is the length of a ledger subaccount
const SubaccountSize = 32

// Subaccount selects one of the accounts owned by a principal
type Subaccount [SubaccountSize]byte

// DefaultSubaccount is the all-zero subaccount
var DefaultSubaccount Subaccount

// SubaccountFrom embeds a principal into a subaccount: length byte followed
// by the raw bytes, zero padded.
func SubaccountFrom(p Principal) Subaccount {
	var s Subaccount
	raw := p.Bytes()
	s[0] = byte(len(raw))
	copy(s[1:], raw)
	return s
}

var accountDomainSeparator = []byte("\x0Aaccount-id")

var ErrInvalidAccount = errors.New("invalid account identifier")

// AccountIdentifier is the 32 byte ledger account: crc32 of the hash followed
// by the 28 byte hash.
type AccountIdentifier [32]byte

// AccountOf returns the ledger account owned by p under the given subaccount
func AccountOf(p Principal, sub Subaccount) AccountIdentifier {
	h := sha256.New224()
	h.Write(accountDomainSeparator)
	h.Write(p.Bytes())
	h.Write(sub[:])
	hash := h.Sum(nil)

	var id AccountIdentifier
	binary.BigEndian.PutUint32(id[:4], crc32.ChecksumIEEE(hash))
	copy(id[4:], hash)
	return id
}

// CanonicalAccount returns p's account under the default subaccount
func CanonicalAccount(p Principal) AccountIdentifier {
	return AccountOf(p, DefaultSubaccount)
}

// ParseAccount parses the hex form and verifies the checksum
func ParseAccount(s string) (AccountIdentifier, error) {
	var id AccountIdentifier
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode account: %w", err)
	}
	if len(b) != len(id) {
		return id, ErrInvalidAccount
	}
	copy(id[:], b)
	if binary.BigEndian.Uint32(id[:4]) != crc32.ChecksumIEEE(id[4:]) {
		return id, ErrInvalidAccount
	}
	return id, nil
}

// String returns the lowercase hex form
func (a AccountIdentifier) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler
func (a AccountIdentifier) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AccountIdentifier) UnmarshalText(text []byte) error {
	parsed, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText encodes the subaccount as hex
func (s Subaccount) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

// UnmarshalText decodes a hex subaccount
func (s *Subaccount) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode subaccount: %w", err)
	}
	if len(b) != SubaccountSize {
		return fmt.Errorf("subaccount must be %d bytes, got %d", SubaccountSize, len(b))
	}
	copy(s[:], b)
	return nil
}
