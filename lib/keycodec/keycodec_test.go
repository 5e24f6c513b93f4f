package keycodec

import (
	"bytes"
	"math"
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigInt(s string) Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return Int{V: v}
}

func TestEncodeOrdering(t *testing.T) {
	// keys in ascending order
	ordered := []Key{
		{Bool(false)},
		{Bool(true)},
		{Float(math.Inf(-1))},
		{Float(-1.5)},
		{Float(0)},
		{Float(2.25)},
		{Float(math.Inf(1))},
		{bigInt("-123456789012345678901234567890")},
		{NewInt(-70000)},
		{NewInt(-256)},
		{NewInt(-1)},
		{NewInt(0)},
		{NewInt(1)},
		{NewInt(255)},
		{NewInt(256)},
		{NewInt(math.MaxInt64)},
		{bigInt("123456789012345678901234567890")},
		{String("")},
		{String("a")},
		{String("a\x00")},
		{String("a\x00b")},
		{String("ab")},
		{String("b")},
		{Bytes{}},
		{Bytes{0x00}},
		{Bytes{0x01}},
		{Bytes{0xff}},
	}

	encoded := make([][]byte, len(ordered))
	for i, k := range ordered {
		b, err := Encode(k)
		require.NoError(t, err)
		encoded[i] = b
	}

	for i := 1; i < len(encoded); i++ {
		assert.Negative(t, bytes.Compare(encoded[i-1], encoded[i]), "%s should sort before %s", ordered[i-1], ordered[i])
	}
}

func TestTupleOrdering(t *testing.T) {
	keys := []Key{
		{String("users"), String("bob")},
		{String("users")},
		{String("users"), String("alice"), NewInt(2)},
		{String("users"), String("alice")},
		{String("user")},
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(MustEncode(keys[i]), MustEncode(keys[j])) < 0
	})

	assert.Equal(t, "[\"user\"]", keys[0].String())
	assert.Equal(t, "[\"users\"]", keys[1].String())
	assert.Equal(t, "[\"users\", \"alice\"]", keys[2].String())
	assert.Equal(t, "[\"users\", \"alice\", 2n]", keys[3].String())
	assert.Equal(t, "[\"users\", \"bob\"]", keys[4].String())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		key  Key
	}{
		{"empty", Key{}},
		{"bools", Key{Bool(true), Bool(false)}},
		{"float", Key{Float(-3.5), Float(1e300)}},
		{"small ints", Key{NewInt(-5), NewInt(0), NewInt(42)}},
		{"big ints", Key{bigInt("-99999999999999999999999"), bigInt("99999999999999999999999")}},
		{"string with zero", Key{String("a\x00b")}},
		{"bytes", Key{Bytes{0x00, 0xff, 0x00}}},
		{"mixed", Key{String("users"), NewInt(7), Bytes("x"), Bool(true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encode(tt.key)
			require.NoError(t, err)

			dec, err := Decode(enc)
			require.NoError(t, err)
			require.Len(t, dec, len(tt.key))

			reenc, err := Encode(dec)
			require.NoError(t, err)
			assert.Equal(t, enc, reenc)
			assert.Equal(t, tt.key.String(), dec.String())
		})
	}
}

func TestEncodedPartsAvoidBoundaryBytes(t *testing.T) {
	parts := []KeyPart{Bool(false), Bool(true), Float(-1), NewInt(-1), NewInt(0), NewInt(1), String(""), Bytes{}}
	for _, p := range parts {
		b, err := AppendPart(nil, p)
		require.NoError(t, err)
		assert.NotEqual(t, byte(0x00), b[0], "part %s", PartString(p))
		assert.NotEqual(t, byte(0xFF), b[0], "part %s", PartString(p))
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, b := range [][]byte{
		{0x00},
		{0xFF},
		{tagFloat, 0x01},
		{tagString, 'a'},
		{tagIntZero + 2, 0x01},
	} {
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrInvalidKey, "input %x", b)
	}
}

func TestIntegerTooLarge(t *testing.T) {
	v := new(big.Int).Lsh(big.NewInt(1), 8*300)
	_, err := Encode(Key{Int{V: v}})
	assert.ErrorIs(t, err, ErrIntegerTooLarge)
}
