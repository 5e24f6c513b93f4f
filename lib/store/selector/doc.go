// Package selector resolves range selectors into byte ranges and implements
// the cursor codec used to paginate range reads.
//
// Selectors work on encoded keys (see keycodec). A prefixed selector without
// explicit bounds spans prefix+0x00 to prefix+0xFF, which brackets every key
// that extends the prefix by at least one encoded key part.
//
// A cursor is the URL-safe base64 encoding of a boundary key with the common
// prefix of the selector stripped. Decoding a cursor always re-checks the
// explicit bounds of the selector, so a modified cursor can not widen the
// range of a read.
package selector
