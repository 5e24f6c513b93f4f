package selector

import (
	"bytes"
	"encoding/base64"
	"strings"
)

// EncodeCursor returns the resumption token for a boundary key: the URL-safe
// base64 of the key with the common prefix of the selector stripped.
func EncodeCursor(s *RawSelector, boundary []byte) (string, error) {
	prefix := s.CommonPrefix()
	if !bytes.HasPrefix(boundary, prefix) {
		return "", ErrInvalidBoundary
	}
	return base64.URLEncoding.EncodeToString(boundary[len(prefix):]), nil
}

// DecodeCursor returns the byte range [start, end) to scan for the selector.
//
// Without a cursor the full selector range is returned. With a cursor, a forward
// scan continues strictly after the boundary key and a reverse scan strictly before it.
// A cursor that would leave the explicit bounds of the selector is rejected.
func DecodeCursor(s *RawSelector, reverse bool, cursor *string) (start, end []byte, err error) {
	if cursor == nil {
		return s.RangeStartKey(), s.RangeEndKey(), nil
	}

	suffix, err := decodeBase64(*cursor)
	if err != nil {
		return nil, nil, ErrInvalidCursor
	}

	prefix := s.CommonPrefix()
	boundary := make([]byte, 0, len(prefix)+len(suffix)+1)
	boundary = append(append(boundary, prefix...), suffix...)

	if reverse {
		start, end = s.RangeStartKey(), boundary
	} else {
		start, end = append(boundary, 0x00), s.RangeEndKey()
	}

	if s.start != nil && bytes.Compare(start, s.start) < 0 {
		return nil, nil, ErrCursorOutOfBounds
	}
	if s.end != nil && bytes.Compare(end, s.end) > 0 {
		return nil, nil, ErrCursorOutOfBounds
	}
	return start, end, nil
}

// decodeBase64 accepts the URL-safe alphabet with and without padding
func decodeBase64(cursor string) ([]byte, error) {
	if strings.HasSuffix(cursor, "=") || len(cursor)%4 == 0 {
		return base64.URLEncoding.DecodeString(cursor)
	}
	return base64.RawURLEncoding.DecodeString(cursor)
}
