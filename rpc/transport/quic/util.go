package quic

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageSize bounds a single request or response on a stream
const maxMessageSize = 64 << 20

// writeRequest writes the shard id followed by the payload
func writeRequest(w io.Writer, shardID uint64, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], shardID)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRequest reads the shard id and the payload until the sender closes its side
func readRequest(r io.Reader) (uint64, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	payload, err := readAll(r)
	if err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint64(header[:]), payload, nil
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("message too large (max %d bytes)", maxMessageSize)
	}
	return data, nil
}
