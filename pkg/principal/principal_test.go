package principal

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWellKnownTextForms(t *testing.T) {
	assert.Equal(t, "2vxsx-fae", Anonymous.String())
	assert.Equal(t, "aaaaa-aa", Principal{}.String())

	p, err := FromText("2vxsx-fae")
	require.NoError(t, err)
	assert.True(t, p.IsAnonymous())
}

func TestTextRoundTrip(t *testing.T) {
	for _, raw := range [][]byte{
		{},
		{0x01},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x30, 0x00, 0x01, 0x01, 0x01},
		make([]byte, MaxLength),
	} {
		p, err := FromBytes(raw)
		require.NoError(t, err)

		parsed, err := FromText(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}

func TestFromTextRejectsBadInput(t *testing.T) {
	_, err := FromText("2vxsx-fab")
	assert.Error(t, err)

	_, err = FromText("2VXSX-FAE")
	assert.ErrorIs(t, err, ErrNotCanonical)

	_, err = FromBytes(make([]byte, MaxLength+1))
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestSelfAuthenticatingIsStable(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	a, err := SelfAuthenticating(pub)
	require.NoError(t, err)
	b, err := SelfAuthenticating(pub)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.Bytes(), MaxLength)
	assert.Equal(t, byte(tagSelfAuthenticating), a.Bytes()[MaxLength-1])
	assert.False(t, a.IsAnonymous())

	_, err = SelfAuthenticating(pub[:10])
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestJSONUsesTextForm(t *testing.T) {
	p := MustFromText("2vxsx-fae")
	data, err := json.Marshal(struct {
		Owner Principal `json:"owner"`
	}{p})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"2vxsx-fae"}`, string(data))

	var decoded struct {
		Owner Principal `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p, decoded.Owner)
}

func TestKeyCodecPreservesOrder(t *testing.T) {
	a, _ := FromBytes([]byte{0x01})
	b, _ := FromBytes([]byte{0x01, 0x00})
	c, _ := FromBytes([]byte{0x02})

	var codec KeyCodec
	assert.Negative(t, a.Compare(b))
	assert.Negative(t, b.Compare(c))

	decoded, err := codec.DecodeKey(codec.EncodeKey(b))
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}

func TestAccountIdentifier(t *testing.T) {
	p := MustFromText("2vxsx-fae")
	acc := CanonicalAccount(p)

	parsed, err := ParseAccount(acc.String())
	require.NoError(t, err)
	assert.Equal(t, acc, parsed)

	assert.NotEqual(t, acc, AccountOf(p, SubaccountFrom(p)))

	corrupted := acc
	corrupted[10] ^= 0xff
	_, err = ParseAccount(corrupted.String())
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestSubaccountFrom(t *testing.T) {
	p, _ := FromBytes([]byte{0xaa, 0xbb})
	sub := SubaccountFrom(p)
	assert.Equal(t, byte(2), sub[0])
	assert.Equal(t, byte(0xaa), sub[1])
	assert.Equal(t, byte(0xbb), sub[2])
	assert.Equal(t, byte(0), sub[3])
}
