package selector

import (
	"bytes"
	"errors"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrStartOutsidePrefix = errors.New("start key is not in the keyspace defined by prefix")
	ErrEndOutsidePrefix   = errors.New("end key is not in the keyspace defined by prefix")
	ErrStartAfterEnd      = errors.New("start key is greater than end key")
	ErrInvalidRange       = errors.New("invalid range")
	ErrInvalidBoundary    = errors.New("invalid boundary key")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrCursorOutOfBounds  = errors.New("cursor out of bounds")
)

// --------------------------------------------------------------------------
// RawSelector
// --------------------------------------------------------------------------

// RawSelector is a resolved range selector over encoded keys.
//
// A prefixed selector covers every key that starts with the prefix, optionally
// narrowed by an explicit start or end key. A range selector covers [start, end).
type RawSelector struct {
	prefixed bool
	prefix   []byte
	start    []byte // nil = no explicit start
	end      []byte // nil = no explicit end
}

// Resolve builds a selector from encoded keys, nil means absent.
//
// Accepted combinations:
//   - prefix
//   - prefix + start (start inside the prefix keyspace)
//   - prefix + end (end inside the prefix keyspace)
//   - start + end (start <= end)
//   - start (selects exactly the start key)
func Resolve(prefix, start, end []byte) (*RawSelector, error) {
	switch {
	case prefix != nil && start == nil && end == nil:
		return &RawSelector{prefixed: true, prefix: prefix}, nil

	case prefix != nil && start != nil && end == nil:
		if !inPrefixKeyspace(prefix, start) {
			return nil, ErrStartOutsidePrefix
		}
		return &RawSelector{prefixed: true, prefix: prefix, start: start}, nil

	case prefix != nil && start == nil && end != nil:
		if !inPrefixKeyspace(prefix, end) {
			return nil, ErrEndOutsidePrefix
		}
		return &RawSelector{prefixed: true, prefix: prefix, end: end}, nil

	case prefix == nil && start != nil && end != nil:
		if bytes.Compare(start, end) > 0 {
			return nil, ErrStartAfterEnd
		}
		return &RawSelector{start: start, end: end}, nil

	case prefix == nil && start != nil && end == nil:
		return &RawSelector{start: start, end: append(bytes.Clone(start), 0x00)}, nil

	default:
		return nil, ErrInvalidRange
	}
}

// inPrefixKeyspace reports whether key starts with prefix and is strictly longer
func inPrefixKeyspace(prefix, key []byte) bool {
	return bytes.HasPrefix(key, prefix) && len(key) > len(prefix)
}

// IsPrefixed reports whether the selector was built from a prefix
func (s *RawSelector) IsPrefixed() bool {
	return s.prefixed
}

// Start returns the explicit start bound, nil if there is none
func (s *RawSelector) Start() []byte {
	return s.start
}

// End returns the explicit end bound, nil if there is none
func (s *RawSelector) End() []byte {
	return s.end
}

// CommonPrefix returns the prefix for prefixed selectors and the longest
// shared prefix of start and end for range selectors.
func (s *RawSelector) CommonPrefix() []byte {
	if s.prefixed {
		return s.prefix
	}
	n := 0
	for n < len(s.start) && n < len(s.end) && s.start[n] == s.end[n] {
		n++
	}
	return s.start[:n]
}

// RangeStartKey returns the inclusive start of the byte range
func (s *RawSelector) RangeStartKey() []byte {
	if s.start != nil {
		return bytes.Clone(s.start)
	}
	return append(bytes.Clone(s.prefix), 0x00)
}

// RangeEndKey returns the exclusive end of the byte range
func (s *RawSelector) RangeEndKey() []byte {
	if s.end != nil {
		return bytes.Clone(s.end)
	}
	return append(bytes.Clone(s.prefix), 0xFF)
}
