package common

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
)

// --------------------------------------------------------------------------
// Atomic Write Wire Types
// --------------------------------------------------------------------------

// WriteRequest is the wire form of db.AtomicWrite. Encoders like gob drop the
// difference between nil and empty slices, so the default backoff schedule is
// an explicit flag.
type WriteRequest struct {
	Checks    []db.Check    `json:"checks,omitempty"`
	Mutations []db.Mutation `json:"mutations,omitempty"`
	Enqueues  []WireEnqueue `json:"enqueues,omitempty"`
}

type WireEnqueue struct {
	Payload           []byte    `json:"payload"`
	Deadline          time.Time `json:"deadline"`
	KeysIfUndelivered [][]byte  `json:"keys_if_undelivered,omitempty"`
	BackoffSchedule   []uint32  `json:"backoff_schedule,omitempty"`
	DefaultBackoff    bool      `json:"default_backoff,omitempty"`
}

// FromAtomicWrite converts an atomic write into its wire form
func FromAtomicWrite(w db.AtomicWrite) *WriteRequest {
	req := &WriteRequest{
		Checks:    w.Checks,
		Mutations: w.Mutations,
		Enqueues:  make([]WireEnqueue, len(w.Enqueues)),
	}
	for i, e := range w.Enqueues {
		req.Enqueues[i] = WireEnqueue{
			Payload:           e.Payload,
			Deadline:          e.Deadline,
			KeysIfUndelivered: e.KeysIfUndelivered,
			BackoffSchedule:   e.BackoffSchedule,
			DefaultBackoff:    e.BackoffSchedule == nil,
		}
	}
	return req
}

// ToAtomicWrite converts the wire form back into an atomic write
func (r *WriteRequest) ToAtomicWrite() db.AtomicWrite {
	w := db.AtomicWrite{
		Checks:    r.Checks,
		Mutations: r.Mutations,
		Enqueues:  make([]db.Enqueue, len(r.Enqueues)),
	}
	for i, e := range r.Enqueues {
		schedule := e.BackoffSchedule
		if e.DefaultBackoff {
			schedule = nil
		} else if schedule == nil {
			schedule = []uint32{}
		}
		w.Enqueues[i] = db.Enqueue{
			Payload:           e.Payload,
			Deadline:          e.Deadline,
			KeysIfUndelivered: e.KeysIfUndelivered,
			BackoffSchedule:   schedule,
		}
	}
	return w
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// ParseKey parses a key from its json form. Every element of the array is one key part:
//
//	"text"            -> string
//	true / false      -> boolean
//	1.5               -> float
//	{"int": "42"}     -> arbitrary precision integer
//	{"bytes": "AQI="} -> bytes (standard base64)
//
// A string that is not a json array is split at "/" into string parts.
func ParseKey(s string) (keycodec.Key, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") {
		if trimmed == "" {
			return keycodec.Key{}, nil
		}
		parts := strings.Split(trimmed, "/")
		key := make(keycodec.Key, len(parts))
		for i, p := range parts {
			key[i] = keycodec.String(p)
		}
		return key, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("invalid key %s: %w", s, err)
	}
	key := make(keycodec.Key, 0, len(raw))
	for _, r := range raw {
		part, err := parseKeyPart(r)
		if err != nil {
			return nil, err
		}
		key = append(key, part)
	}
	return key, nil
}

func parseKeyPart(r json.RawMessage) (keycodec.KeyPart, error) {
	var v any
	if err := json.Unmarshal(r, &v); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case string:
		return keycodec.String(val), nil
	case bool:
		return keycodec.Bool(val), nil
	case float64:
		return keycodec.Float(val), nil
	case map[string]any:
		if s, ok := val["int"].(string); ok && len(val) == 1 {
			i, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("invalid integer key part %q", s)
			}
			return keycodec.Int{V: i}, nil
		}
		if s, ok := val["bytes"].(string); ok && len(val) == 1 {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid bytes key part %q: %w", s, err)
			}
			return keycodec.Bytes(b), nil
		}
	}
	return nil, fmt.Errorf("unsupported key part %s", string(r))
}

// FormatKey renders a key in the json form accepted by ParseKey
func FormatKey(k keycodec.Key) string {
	parts := make([]any, len(k))
	for i, p := range k {
		switch v := p.(type) {
		case keycodec.String:
			parts[i] = string(v)
		case keycodec.Bool:
			parts[i] = bool(v)
		case keycodec.Float:
			parts[i] = float64(v)
		case keycodec.Int:
			s := "0"
			if v.V != nil {
				s = v.V.String()
			}
			parts[i] = map[string]string{"int": s}
		case keycodec.Bytes:
			parts[i] = map[string]string{"bytes": base64.StdEncoding.EncodeToString(v)}
		}
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return k.String()
	}
	return string(b)
}

// --------------------------------------------------------------------------
// Values
// --------------------------------------------------------------------------

// ParseValue parses a value of the given kind (serialized, bytes or u64).
// Serialized and bytes values take the raw text.
func ParseValue(kind, s string) (db.Value, error) {
	switch kind {
	case "serialized", "":
		return db.SerializedValue([]byte(s)), nil
	case "bytes":
		return db.BytesValue([]byte(s)), nil
	case "u64":
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return db.Value{}, fmt.Errorf("invalid u64 value %q: %w", s, err)
		}
		return db.U64Value(v), nil
	default:
		return db.Value{}, fmt.Errorf("invalid value type %q (expected serialized, bytes or u64)", kind)
	}
}

// FormatValue renders a value for display
func FormatValue(v db.Value) string {
	switch v.Kind {
	case db.ValueU64:
		return strconv.FormatUint(v.U64, 10) + "n"
	case db.ValueBytes:
		return fmt.Sprintf("%q", v.Data)
	default:
		return string(v.Data)
	}
}
