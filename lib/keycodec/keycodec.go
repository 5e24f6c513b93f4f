package keycodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Key Parts
// --------------------------------------------------------------------------

// Kind identifies the variant of a KeyPart. The order of the constants is the
// sort order of the kinds.
type Kind uint8

const (
	KindFalse Kind = iota
	KindTrue
	KindFloat
	KindInt
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindFalse:
		return "false"
	case KindTrue:
		return "true"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// KeyPart is one element of a Key. The set of implementations is closed.
type KeyPart interface {
	Kind() Kind
	isKeyPart()
}

// Bool is a boolean key part
type Bool bool

// Float is a 64-bit floating point key part
type Float float64

// String is a UTF-8 string key part
type String string

// Bytes is a raw byte array key part
type Bytes []byte

// Int is an arbitrary precision integer key part
type Int struct {
	V *big.Int
}

// NewInt creates an Int key part from an int64
func NewInt(v int64) Int {
	return Int{V: big.NewInt(v)}
}

func (b Bool) Kind() Kind {
	if b {
		return KindTrue
	}
	return KindFalse
}
func (Float) Kind() Kind  { return KindFloat }
func (Int) Kind() Kind    { return KindInt }
func (String) Kind() Kind { return KindString }
func (Bytes) Kind() Kind  { return KindBytes }

func (Bool) isKeyPart()   {}
func (Float) isKeyPart()  {}
func (Int) isKeyPart()    {}
func (String) isKeyPart() {}
func (Bytes) isKeyPart()  {}

// Key is an ordered tuple of key parts.
// A nil Key is used by callers to signal an absent key, a non-nil empty Key
// is a present but empty key.
type Key []KeyPart

// String renders the key in a human readable form, e.g. ["users", 42n, true]
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = PartString(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// PartString renders a single key part
func PartString(p KeyPart) string {
	switch v := p.(type) {
	case Bool:
		return strconv.FormatBool(bool(v))
	case Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case Int:
		if v.V == nil {
			return "0n"
		}
		return v.V.String() + "n"
	case String:
		return strconv.Quote(string(v))
	case Bytes:
		return fmt.Sprintf("0x%x", []byte(v))
	default:
		return "?"
	}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

const (
	tagFalse     = 0x10
	tagTrue      = 0x11
	tagFloat     = 0x20
	tagNegIntBig = 0x27
	tagIntZero   = 0x30
	tagPosIntBig = 0x39
	tagString    = 0x40
	tagBytes     = 0x50

	maxSmallIntLen = 8
	maxBigIntLen   = 255
)

var (
	ErrInvalidKey      = errors.New("invalid encoded key")
	ErrIntegerTooLarge = errors.New("integer key part too large")
)

// Encode encodes a key into its order-preserving byte form
func Encode(k Key) ([]byte, error) {
	out := make([]byte, 0, 16*len(k))
	var err error
	for _, p := range k {
		if out, err = AppendPart(out, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MustEncode is like Encode but panics on error. Only intended for tests and constants.
func MustEncode(k Key) []byte {
	b, err := Encode(k)
	if err != nil {
		panic(err)
	}
	return b
}

// AppendPart appends the encoding of a single part to dst
func AppendPart(dst []byte, p KeyPart) ([]byte, error) {
	switch v := p.(type) {
	case Bool:
		if v {
			return append(dst, tagTrue), nil
		}
		return append(dst, tagFalse), nil
	case Float:
		bits := math.Float64bits(float64(v))
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		dst = append(dst, tagFloat)
		return binary.BigEndian.AppendUint64(dst, bits), nil
	case Int:
		return appendInt(dst, v.V)
	case String:
		dst = append(dst, tagString)
		return appendEscaped(dst, []byte(v)), nil
	case Bytes:
		dst = append(dst, tagBytes)
		return appendEscaped(dst, v), nil
	default:
		return nil, fmt.Errorf("unsupported key part %T", p)
	}
}

func appendInt(dst []byte, v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() == 0 {
		return append(dst, tagIntZero), nil
	}
	mag := new(big.Int).Abs(v).Bytes()
	n := len(mag)
	if n > maxBigIntLen {
		return nil, ErrIntegerTooLarge
	}

	if v.Sign() > 0 {
		if n <= maxSmallIntLen {
			dst = append(dst, byte(tagIntZero+n))
		} else {
			dst = append(dst, tagPosIntBig, byte(n))
		}
		return append(dst, mag...), nil
	}

	if n <= maxSmallIntLen {
		dst = append(dst, byte(tagIntZero-n))
	} else {
		dst = append(dst, tagNegIntBig, ^byte(n))
	}
	for _, b := range mag {
		dst = append(dst, ^b)
	}
	return dst, nil
}

func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		if b == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, 0x00)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode decodes an encoded key back into its parts
func Decode(b []byte) (Key, error) {
	k := Key{}
	for len(b) > 0 {
		p, rest, err := decodePart(b)
		if err != nil {
			return nil, err
		}
		k = append(k, p)
		b = rest
	}
	return k, nil
}

func decodePart(b []byte) (KeyPart, []byte, error) {
	tag := b[0]
	b = b[1:]
	switch {
	case tag == tagFalse:
		return Bool(false), b, nil
	case tag == tagTrue:
		return Bool(true), b, nil
	case tag == tagFloat:
		if len(b) < 8 {
			return nil, nil, ErrInvalidKey
		}
		bits := binary.BigEndian.Uint64(b[:8])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return Float(math.Float64frombits(bits)), b[8:], nil
	case tag == tagIntZero:
		return Int{V: new(big.Int)}, b, nil
	case tag > tagIntZero && tag <= tagIntZero+maxSmallIntLen:
		n := int(tag - tagIntZero)
		if len(b) < n {
			return nil, nil, ErrInvalidKey
		}
		return Int{V: new(big.Int).SetBytes(b[:n])}, b[n:], nil
	case tag == tagPosIntBig:
		if len(b) < 1 || len(b) < 1+int(b[0]) {
			return nil, nil, ErrInvalidKey
		}
		n := int(b[0])
		return Int{V: new(big.Int).SetBytes(b[1 : 1+n])}, b[1+n:], nil
	case tag >= tagIntZero-maxSmallIntLen && tag < tagIntZero:
		n := int(tagIntZero - tag)
		if len(b) < n {
			return nil, nil, ErrInvalidKey
		}
		return Int{V: negMagnitude(b[:n])}, b[n:], nil
	case tag == tagNegIntBig:
		if len(b) < 1 {
			return nil, nil, ErrInvalidKey
		}
		n := int(^b[0])
		if len(b) < 1+n {
			return nil, nil, ErrInvalidKey
		}
		return Int{V: negMagnitude(b[1 : 1+n])}, b[1+n:], nil
	case tag == tagString:
		s, rest, err := readEscaped(b)
		if err != nil {
			return nil, nil, err
		}
		return String(s), rest, nil
	case tag == tagBytes:
		s, rest, err := readEscaped(b)
		if err != nil {
			return nil, nil, err
		}
		return Bytes(s), rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidKey, tag)
	}
}

func negMagnitude(b []byte) *big.Int {
	mag := make([]byte, len(b))
	for i, c := range b {
		mag[i] = ^c
	}
	return new(big.Int).Neg(new(big.Int).SetBytes(mag))
}

func readEscaped(b []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return out, b[i+1:], nil
	}
	return nil, nil, fmt.Errorf("%w: unterminated string", ErrInvalidKey)
}

// Compare compares two keys by their encoded form
func Compare(a, b Key) (int, error) {
	ea, err := Encode(a)
	if err != nil {
		return 0, err
	}
	eb, err := Encode(b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ea, eb), nil
}
