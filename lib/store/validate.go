package store

import (
	"encoding/hex"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/store/selector"
)

// --------------------------------------------------------------------------
// Keys and Selectors
// --------------------------------------------------------------------------

// encodeKey encodes a key, nil stays nil so absent selector keys survive
func encodeKey(k keycodec.Key) ([]byte, error) {
	if k == nil {
		return nil, nil
	}
	b, err := keycodec.Encode(k)
	if err != nil {
		return nil, typeError("%s", err.Error())
	}
	return b, nil
}

func resolveSelector(prefix, start, end keycodec.Key) (*selector.RawSelector, error) {
	p, err := encodeKey(prefix)
	if err != nil {
		return nil, err
	}
	s, err := encodeKey(start)
	if err != nil {
		return nil, err
	}
	e, err := encodeKey(end)
	if err != nil {
		return nil, err
	}
	sel, err := selector.Resolve(p, s, e)
	if err != nil {
		return nil, typeError("%s", err.Error())
	}
	return sel, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// convertRange turns a range request into the byte range handed to the backend
func convertRange(r RangeRequest) (db.ReadRange, error) {
	sel, err := resolveSelector(r.Prefix, r.Start, r.End)
	if err != nil {
		return db.ReadRange{}, err
	}

	start, end, err := selector.DecodeCursor(sel, r.Reverse, r.Cursor)
	if err != nil {
		return db.ReadRange{}, typeError("%s", err.Error())
	}
	if err := checkReadKeySize(start); err != nil {
		return db.ReadRange{}, err
	}
	if err := checkReadKeySize(end); err != nil {
		return db.ReadRange{}, err
	}
	if r.Limit == 0 {
		return db.ReadRange{}, typeError("limit must be greater than 0")
	}

	return db.ReadRange{Start: start, End: end, Limit: r.Limit, Reverse: r.Reverse}, nil
}

// checkReadBudget enforces the range and entry budgets of a snapshot read
func checkReadBudget(ranges []db.ReadRange) error {
	if len(ranges) > MaxReadRanges {
		return typeError("too many ranges (max %d)", MaxReadRanges)
	}
	total := 0
	for _, r := range ranges {
		total += int(r.Limit)
	}
	if total > MaxReadEntries {
		return typeError("too many entries (max %d)", MaxReadEntries)
	}
	return nil
}

// decodeEntry converts a backend entry into its structured form
func decodeEntry(e db.Entry) (Entry, error) {
	key, err := keycodec.Decode(e.Key)
	if err != nil {
		return Entry{}, internalError(err)
	}
	return Entry{Key: key, Value: e.Value, Versionstamp: e.Versionstamp.String()}, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func convertCheck(c CheckRequest) (db.Check, error) {
	var vs *db.Versionstamp
	if c.Versionstamp != nil {
		parsed, err := parseVersionstamp(*c.Versionstamp)
		if err != nil {
			return db.Check{}, err
		}
		vs = &parsed
	}
	key, err := keycodec.Encode(c.Key)
	if err != nil {
		return db.Check{}, typeError("%s", err.Error())
	}
	return db.Check{Key: key, Versionstamp: vs}, nil
}

func parseVersionstamp(s string) (db.Versionstamp, error) {
	var vs db.Versionstamp
	if len(s) != 2*db.VersionstampSize {
		return vs, typeError("invalid versionstamp length")
	}
	if _, err := hex.Decode(vs[:], []byte(s)); err != nil {
		return vs, typeError("invalid versionstamp")
	}
	return vs, nil
}

var mutationKinds = map[string]db.MutationKind{
	"set":                        db.MutationSet,
	"delete":                     db.MutationDelete,
	"sum":                        db.MutationSum,
	"min":                        db.MutationMin,
	"max":                        db.MutationMax,
	"setSuffixVersionstampedKey": db.MutationSetSuffixVersionstampedKey,
}

func convertMutation(m MutationRequest, now time.Time) (db.Mutation, error) {
	key, err := keycodec.Encode(m.Key)
	if err != nil {
		return db.Mutation{}, typeError("%s", err.Error())
	}

	kind, known := mutationKinds[m.Kind]
	if !known || kind.HasValue() != (m.Value != nil) {
		if m.Value != nil {
			return db.Mutation{}, typeError("invalid mutation '%s' with value", m.Kind)
		}
		return db.Mutation{}, typeError("invalid mutation '%s' without value", m.Kind)
	}

	out := db.Mutation{Key: key, Kind: kind, Value: m.Value}
	if m.ExpireIn != nil {
		at := now.Add(time.Duration(*m.ExpireIn) * time.Millisecond)
		out.ExpireAt = &at
	}
	return out, nil
}

func convertEnqueue(e EnqueueRequest, now time.Time) (db.Enqueue, error) {
	keys := make([][]byte, 0, len(e.KeysIfUndelivered))
	for _, k := range e.KeysIfUndelivered {
		b, err := keycodec.Encode(k)
		if err != nil {
			return db.Enqueue{}, typeError("invalid enqueue: %s", err.Error())
		}
		keys = append(keys, b)
	}
	return db.Enqueue{
		Payload:           e.Payload,
		Deadline:          now.Add(time.Duration(e.DelayMs) * time.Millisecond),
		KeysIfUndelivered: keys,
		BackoffSchedule:   e.BackoffSchedule,
	}, nil
}

// checkWriteBudget enforces the count and size budgets of an atomic write
func checkWriteBudget(w db.AtomicWrite) error {
	totalPayload := 0
	totalKeys := 0

	keys := make([][]byte, 0, len(w.Checks)+len(w.Mutations))
	for _, c := range w.Checks {
		keys = append(keys, c.Key)
	}
	for _, m := range w.Mutations {
		keys = append(keys, m.Key)
	}
	for _, k := range keys {
		if len(k) == 0 {
			return typeError("key cannot be empty")
		}
		n, err := checkWriteKeySize(k)
		if err != nil {
			return err
		}
		totalPayload += n
	}

	for _, m := range w.Mutations {
		if m.Value == nil {
			continue
		}
		keySize, err := checkWriteKeySize(m.Key)
		if err != nil {
			return err
		}
		valueSize := m.Value.Size()
		if valueSize > MaxValueSizeBytes {
			return typeError("value too large (max %d bytes)", MaxValueSizeBytes)
		}
		totalPayload += valueSize + keySize
		totalKeys += keySize
	}

	for _, e := range w.Enqueues {
		if len(e.Payload) > MaxValueSizeBytes {
			return typeError("enqueue payload too large (max %d bytes)", MaxValueSizeBytes)
		}
		totalPayload += len(e.Payload) + 4*len(e.BackoffSchedule)
	}

	if totalPayload > MaxTotalMutationSizeBytes {
		return typeError("total mutation size too large (max %d bytes)", MaxTotalMutationSizeBytes)
	}
	if totalKeys > MaxTotalKeySizeBytes {
		return typeError("total key size too large (max %d bytes)", MaxTotalKeySizeBytes)
	}
	return nil
}

func checkReadKeySize(key []byte) error {
	if len(key) > MaxReadKeySizeBytes {
		return typeError("key too large for read (max %d bytes)", MaxReadKeySizeBytes)
	}
	return nil
}

func checkWriteKeySize(key []byte) (int, error) {
	if len(key) > MaxWriteKeySizeBytes {
		return 0, typeError("key too large for write (max %d bytes)", MaxWriteKeySizeBytes)
	}
	return len(key), nil
}
