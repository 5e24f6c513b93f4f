package selector

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(parts ...keycodec.KeyPart) []byte {
	return keycodec.MustEncode(parts)
}

func TestResolve(t *testing.T) {
	users := key(keycodec.String("users"))
	alice := key(keycodec.String("users"), keycodec.String("alice"))
	bob := key(keycodec.String("users"), keycodec.String("bob"))
	other := key(keycodec.String("orders"), keycodec.String("1"))

	tests := []struct {
		name               string
		prefix, start, end []byte
		err                error
		rangeStart         []byte
		rangeEnd           []byte
	}{
		{name: "prefix only", prefix: users,
			rangeStart: append(bytes.Clone(users), 0x00), rangeEnd: append(bytes.Clone(users), 0xFF)},
		{name: "prefix and start", prefix: users, start: alice,
			rangeStart: alice, rangeEnd: append(bytes.Clone(users), 0xFF)},
		{name: "prefix and end", prefix: users, end: bob,
			rangeStart: append(bytes.Clone(users), 0x00), rangeEnd: bob},
		{name: "start and end", start: alice, end: bob, rangeStart: alice, rangeEnd: bob},
		{name: "start only", start: alice, rangeStart: alice, rangeEnd: append(bytes.Clone(alice), 0x00)},
		{name: "start equal to prefix", prefix: users, start: users, err: ErrStartOutsidePrefix},
		{name: "start outside prefix", prefix: users, start: other, err: ErrStartOutsidePrefix},
		{name: "end outside prefix", prefix: users, end: other, err: ErrEndOutsidePrefix},
		{name: "start after end", start: bob, end: alice, err: ErrStartAfterEnd},
		{name: "nothing", err: ErrInvalidRange},
		{name: "end only", end: bob, err: ErrInvalidRange},
		{name: "all three", prefix: users, start: alice, end: bob, err: ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Resolve(tt.prefix, tt.start, tt.end)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rangeStart, sel.RangeStartKey())
			assert.Equal(t, tt.rangeEnd, sel.RangeEndKey())
		})
	}
}

func TestResolveEmptyPrefix(t *testing.T) {
	sel, err := Resolve([]byte{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, sel.IsPrefixed())
	assert.Equal(t, []byte{0x00}, sel.RangeStartKey())
	assert.Equal(t, []byte{0xFF}, sel.RangeEndKey())
	assert.Nil(t, sel.Start())
	assert.Nil(t, sel.End())
}

func TestCommonPrefix(t *testing.T) {
	sel, err := Resolve(nil, []byte("abcd"), []byte("abxy"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), sel.CommonPrefix())

	sel, err = Resolve(nil, []byte("abc"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), sel.CommonPrefix())

	sel, err = Resolve([]byte("p"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), sel.CommonPrefix())
}

func TestCursorRoundTrip(t *testing.T) {
	users := key(keycodec.String("users"))
	alice := key(keycodec.String("users"), keycodec.String("alice"))

	sel, err := Resolve(users, nil, nil)
	require.NoError(t, err)

	cursor, err := EncodeCursor(sel, alice)
	require.NoError(t, err)

	start, end, err := DecodeCursor(sel, false, &cursor)
	require.NoError(t, err)
	assert.Equal(t, append(bytes.Clone(alice), 0x00), start)
	assert.Equal(t, sel.RangeEndKey(), end)

	start, end, err = DecodeCursor(sel, true, &cursor)
	require.NoError(t, err)
	assert.Equal(t, sel.RangeStartKey(), start)
	assert.Equal(t, alice, end)
}

func TestCursorWithoutCursor(t *testing.T) {
	sel, err := Resolve([]byte("p"), nil, nil)
	require.NoError(t, err)

	start, end, err := DecodeCursor(sel, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("p\x00"), start)
	assert.Equal(t, []byte("p\xff"), end)
}

func TestCursorEncoding(t *testing.T) {
	sel, err := Resolve([]byte("p"), nil, nil)
	require.NoError(t, err)

	// padded URL-safe alphabet
	cursor, err := EncodeCursor(sel, []byte("p\xfb\xff"))
	require.NoError(t, err)
	assert.Equal(t, "-_8=", cursor)

	unpadded := "-_8"
	start, _, err := DecodeCursor(sel, false, &unpadded)
	require.NoError(t, err)
	assert.Equal(t, []byte("p\xfb\xff\x00"), start)
}

func TestEncodeCursorInvalidBoundary(t *testing.T) {
	sel, err := Resolve([]byte("p"), nil, nil)
	require.NoError(t, err)

	_, err = EncodeCursor(sel, []byte("q1"))
	require.ErrorIs(t, err, ErrInvalidBoundary)
}

func TestDecodeCursorInvalid(t *testing.T) {
	sel, err := Resolve([]byte("p"), nil, nil)
	require.NoError(t, err)

	bad := "!!not base64!!"
	_, _, err = DecodeCursor(sel, false, &bad)
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDecodeCursorOutOfBounds(t *testing.T) {
	sel, err := Resolve(nil, []byte("b"), []byte("d"))
	require.NoError(t, err)
	require.Empty(t, sel.CommonPrefix())

	// forward scans may not start before the explicit start
	before, err := EncodeCursor(sel, []byte("a"))
	require.NoError(t, err)
	_, _, err = DecodeCursor(sel, false, &before)
	require.ErrorIs(t, err, ErrCursorOutOfBounds)

	// reverse scans may not end after the explicit end
	after, err := EncodeCursor(sel, []byte("e"))
	require.NoError(t, err)
	_, _, err = DecodeCursor(sel, true, &after)
	require.ErrorIs(t, err, ErrCursorOutOfBounds)

	// a boundary inside the range is accepted both ways
	inside, err := EncodeCursor(sel, []byte("c"))
	require.NoError(t, err)
	start, end, err := DecodeCursor(sel, false, &inside)
	require.NoError(t, err)
	assert.Equal(t, []byte("c\x00"), start)
	assert.Equal(t, []byte("d"), end)
	start, end, err = DecodeCursor(sel, true, &inside)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), start)
	assert.Equal(t, []byte("c"), end)
}
