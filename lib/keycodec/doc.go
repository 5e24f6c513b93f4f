// Package keycodec implements the order-preserving binary encoding of
// structured keys.
//
// A Key is an ordered tuple of KeyPart values. Every part is one of the
// closed set of kinds Bool, Float, Int, String and Bytes. Encoded keys
// compare byte-wise in the same order as the tuples they represent: parts
// are compared first by kind (false < true < float < int < string < bytes)
// and then by value, tuples lexicographically.
//
// Layout of a single encoded part:
//
//	false      0x10
//	true       0x11
//	float      0x20 + 8 bytes (sign-flipped IEEE 754, big-endian)
//	int        0x27 + ^len + ^magnitude  (negative, more than 8 bytes)
//	           0x28-0x2f + ^magnitude     (negative, 8..1 bytes)
//	           0x30                       (zero)
//	           0x31-0x38 + magnitude      (positive, 1..8 bytes)
//	           0x39 + len + magnitude     (positive, more than 8 bytes)
//	string     0x40 + escaped UTF-8 + 0x00
//	bytes      0x50 + escaped bytes + 0x00
//
// Within strings and byte arrays 0x00 is escaped as 0x00 0xFF. No part
// starts with 0x00 or 0xFF, so for any encoded prefix P every key that
// extends P sorts strictly between P++0x00 and P++0xFF.
package keycodec
