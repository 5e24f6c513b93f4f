package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "TXKVENG\x00" // File format identifier
	formatVersion = 1
	loadBatchSize = 10_000
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Checkpoint is a point-in-time view of the complete keyspace
type Checkpoint struct {
	snap storage.Snapshot
}

// Checkpoint captures the current state. Writes committed afterwards are not part of it.
// The checkpoint must be closed after use.
func (e *Engine) Checkpoint() (*Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return nil, db.ErrClosed
	}
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return &Checkpoint{snap: snap}, nil
}

func (c *Checkpoint) Close() error {
	return c.snap.Close()
}

// Save writes the complete keyspace (data, queue and metadata) to w.
// Writes are allowed during Save, the output reflects the state at the time Save was called.
func (e *Engine) Save(w io.Writer) error {
	cp, err := e.Checkpoint()
	if err != nil {
		return err
	}
	defer cp.Close()
	return cp.Encode(w)
}

// Encode writes the checkpoint in the format read by Load
func (c *Checkpoint) Encode(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := bw.WriteByte(formatVersion); err != nil {
		return err
	}

	// Write records as (uvarint key length, key, uvarint value length, value)
	var writeErr error
	buf := make([]byte, binary.MaxVarintLen64)
	writeBytes := func(b []byte) error {
		n := binary.PutUvarint(buf, uint64(len(b)))
		if _, err := bw.Write(buf[:n]); err != nil {
			return err
		}
		_, err := bw.Write(b)
		return err
	}
	err := c.snap.Scan(nil, nil, false, func(k, v []byte) bool {
		if writeErr = writeBytes(k); writeErr != nil {
			return false
		}
		writeErr = writeBytes(v)
		return writeErr == nil
	})
	if err != nil {
		return mapStorageErr(err)
	}
	if writeErr != nil {
		return writeErr
	}

	// Keys are never empty, a zero length key terminates the stream
	if err := bw.WriteByte(0); err != nil {
		return err
	}
	return bw.Flush()
}

// Load replaces the complete keyspace with the content written by Save
//
// Thread-safety: Load blocks all writes, concurrent reads may observe a partially loaded state
func (e *Engine) Load(r io.Reader) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return db.ErrClosed
	}

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number and version
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}
	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, formatVersion)
	}

	// Drop the current keyspace
	var existing [][]byte
	if err := e.store.Scan(nil, nil, false, func(k, _ []byte) bool {
		existing = append(existing, append([]byte(nil), k...))
		return true
	}); err != nil {
		return mapStorageErr(err)
	}
	batch := e.store.NewBatch()
	for _, k := range existing {
		if err := batch.Delete(k); err != nil {
			_ = batch.Close()
			return err
		}
	}

	// Read records
	readBytes := func() ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		_, err = io.ReadFull(br, b)
		return b, err
	}
	count := 0
	for {
		k, err := readBytes()
		if err != nil {
			_ = batch.Close()
			return err
		}
		if len(k) == 0 {
			break
		}
		v, err := readBytes()
		if err != nil {
			_ = batch.Close()
			return err
		}
		if err := batch.Set(k, v); err != nil {
			_ = batch.Close()
			return err
		}

		// commit in chunks to bound memory usage
		if count++; count%loadBatchSize == 0 {
			if err := batch.Commit(); err != nil {
				return mapStorageErr(err)
			}
			batch = e.store.NewBatch()
		}
	}
	if err := batch.Commit(); err != nil {
		return mapStorageErr(err)
	}

	if err := e.restore(); err != nil {
		return err
	}
	e.watchers.notify()
	e.queue.notify()
	return nil
}
