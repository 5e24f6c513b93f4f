package internal

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
)

func ptr[T any](v T) *T { return &v }

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	expireAt := time.UnixMilli(1_700_000_123_456)
	vs := db.Versionstamp{0, 0, 0, 0, 0, 0, 0, 42, 0, 0}

	tests := []struct {
		name    string
		command Command
	}{
		{
			name:    "Claim",
			command: Command{Type: CommandTClaim, Timestamp: 1_700_000_000_000},
		},
		{
			name:    "Finish",
			command: Command{Type: CommandTFinish, Timestamp: 1, MessageID: 77, Success: true},
		},
		{
			name:    "Collect garbage",
			command: Command{Type: CommandTCollectGarbage, Timestamp: 99},
		},
		{
			name:    "Empty atomic write",
			command: Command{Type: CommandTAtomicWrite, Timestamp: 5},
		},
		{
			name: "Atomic write with checks and mutations",
			command: Command{
				Type:      CommandTAtomicWrite,
				Timestamp: 1_700_000_000_000,
				Write: db.AtomicWrite{
					Checks: []db.Check{
						{Key: []byte("absent")},
						{Key: []byte("present"), Versionstamp: &vs},
					},
					Mutations: []db.Mutation{
						{Key: []byte("a"), Kind: db.MutationSet, Value: ptr(db.BytesValue([]byte{0, 1, 254, 255}))},
						{Key: []byte("b"), Kind: db.MutationSum, Value: ptr(db.U64Value(^uint64(0)))},
						{Key: []byte("c"), Kind: db.MutationSet, Value: ptr(db.SerializedValue([]byte("v"))), ExpireAt: &expireAt},
						{Key: []byte("d"), Kind: db.MutationDelete},
					},
				},
			},
		},
		{
			name: "Atomic write with enqueues",
			command: Command{
				Type:      CommandTAtomicWrite,
				Timestamp: 1_700_000_000_000,
				Write: db.AtomicWrite{
					Enqueues: []db.Enqueue{
						{Payload: []byte("default backoff"), Deadline: expireAt},
						{Payload: []byte("no retries"), Deadline: expireAt, BackoffSchedule: []uint32{}},
						{
							Payload:           []byte("custom"),
							Deadline:          expireAt,
							KeysIfUndelivered: [][]byte{[]byte("dlq1"), []byte("dlq2")},
							BackoffSchedule:   []uint32{1, 1000, 60000},
						},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Timestamp != tt.command.Timestamp {
				t.Errorf("Timestamp mismatch: got %v, want %v", newCommand.Timestamp, tt.command.Timestamp)
			}
			if newCommand.MessageID != tt.command.MessageID || newCommand.Success != tt.command.Success {
				t.Errorf("Finish fields mismatch: got %d/%t, want %d/%t",
					newCommand.MessageID, newCommand.Success, tt.command.MessageID, tt.command.Success)
			}
			if !reflect.DeepEqual(newCommand.Write, tt.command.Write) {
				t.Errorf("Write mismatch:\ngot:  %+v\nwant: %+v", newCommand.Write, tt.command.Write)
			}
		})
	}
}

// TestBackoffNilSurvives checks that a missing schedule is not turned into an empty one
func TestBackoffNilSurvives(t *testing.T) {
	cmd := Command{Type: CommandTAtomicWrite, Write: db.AtomicWrite{Enqueues: []db.Enqueue{
		{Payload: []byte("a"), Deadline: time.UnixMilli(0)},
		{Payload: []byte("b"), Deadline: time.UnixMilli(0), BackoffSchedule: []uint32{}},
	}}}

	var out Command
	if err := out.Deserialize(cmd.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if out.Write.Enqueues[0].BackoffSchedule != nil {
		t.Errorf("Expected nil schedule, got %v", out.Write.Enqueues[0].BackoffSchedule)
	}
	if out.Write.Enqueues[1].BackoffSchedule == nil {
		t.Errorf("Expected empty, non-nil schedule")
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	valid := (&Command{
		Type: CommandTAtomicWrite,
		Write: db.AtomicWrite{Mutations: []db.Mutation{
			{Key: []byte("key"), Kind: db.MutationSet, Value: ptr(db.BytesValue([]byte("value")))},
		}},
	}).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "Empty data", data: []byte{}},
		{name: "Data too short (less than header)", data: []byte{1, 2, 3, 4, 5}},
		{name: "Truncated write", data: valid[:len(valid)-2]},
		{name: "Trailing bytes", data: append(bytes.Clone(valid), 0)},
		{
			name: "Count exceeds data",
			data: func() []byte {
				data := make([]byte, 18)
				data[0] = byte(CommandTAtomicWrite)
				return binary.AppendUvarint(data, 1000)
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			if err := cmd.Deserialize(tt.data); err == nil {
				t.Fatalf("Expected error but got nil")
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of the command header
func TestBinaryFormat(t *testing.T) {
	cmd := Command{Type: CommandTFinish, Timestamp: 12345, MessageID: 67890, Success: true}

	expected := make([]byte, 18)
	expected[0] = byte(CommandTFinish)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint64(expected[9:17], 67890)
	expected[17] = 1

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

func TestClaimEncoding(t *testing.T) {
	id, payload, err := DecodeClaim(EncodeClaim(9, []byte("job")))
	if err != nil {
		t.Fatalf("DecodeClaim() error = %v", err)
	}
	if id != 9 || string(payload) != "job" {
		t.Errorf("got %d/%q, want 9/%q", id, payload, "job")
	}

	if _, _, err := DecodeClaim([]byte{1, 2}); err == nil {
		t.Error("Expected error for short claim")
	}
}
