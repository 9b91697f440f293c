package refstore

import (
	"bytes"
	"fmt"
)

// ValueType is the persisted type tag of a value. Tags are part of the
// stored format and must never be renumbered.
type ValueType byte

const (
	StringValueType ValueType = 0
	BytesValueType  ValueType = 1
	RecordValueType ValueType = 2
)

func (t ValueType) String() string {
	switch t {
	case StringValueType:
		return "string"
	case BytesValueType:
		return "bytes"
	case RecordValueType:
		return "record"
	default:
		return fmt.Sprintf("type%d", byte(t))
	}
}

// Value is a reference data value that can be stored in the value store.
type Value interface {
	TypeID() ValueType
	MarshalValue() ([]byte, error)
}

// StringValue is a UTF-8 string value.
type StringValue string

func (StringValue) TypeID() ValueType { return StringValueType }

func (v StringValue) MarshalValue() ([]byte, error) { return []byte(v), nil }

// BytesValue is an opaque byte value, e.g. a serialized XML fragment.
type BytesValue []byte

func (BytesValue) TypeID() ValueType { return BytesValueType }

func (v BytesValue) MarshalValue() ([]byte, error) { return []byte(v), nil }

// RecordValue is a structured value, stored as msgpack.
type RecordValue map[string]any

func (RecordValue) TypeID() ValueType { return RecordValueType }

func (v RecordValue) MarshalValue() ([]byte, error) {
	var bb bytesBuilder
	if err := encodeMsgpack(&bb, map[string]any(v)); err != nil {
		return nil, err
	}
	return bb.Buf, nil
}

// UnmarshalValue decodes the serialized form of a value of the given type.
func UnmarshalValue(typ ValueType, data []byte) (Value, error) {
	switch typ {
	case StringValueType:
		return StringValue(data), nil
	case BytesValueType:
		return BytesValue(bytes.Clone(data)), nil
	case RecordValueType:
		var m map[string]any
		if err := decodeMsgpack(data, &m); err != nil {
			return nil, err
		}
		return RecordValue(m), nil
	default:
		return nil, dataErrf(data, 0, nil, "unknown value type %d", byte(typ))
	}
}

// StagingValue is a value serialized and hashed once, ready to be put
// into the value store.
type StagingValue struct {
	TypeID ValueType
	Data   []byte
	Hash   uint64
}

func NewStagingValue(v Value, h Hasher) (StagingValue, error) {
	data, err := v.MarshalValue()
	if err != nil {
		return StagingValue{}, err
	}
	return StagingValue{TypeID: v.TypeID(), Data: data, Hash: h.Hash(data)}, nil
}

func (sv StagingValue) encodedLen() int {
	return 1 + len(sv.Data)
}

func (sv StagingValue) appendTo(bb *bytesBuilder) {
	bb.AppendByte(byte(sv.TypeID))
	bb.Write(sv.Data)
}

// matches reports whether an encoded ValueStore entry holds exactly this value.
func (sv StagingValue) matches(stored []byte) bool {
	return len(stored) == sv.encodedLen() && stored[0] == byte(sv.TypeID) && bytes.Equal(stored[1:], sv.Data)
}

// StoredValue is a value read back from the value store.
type StoredValue struct {
	TypeID ValueType
	Data   []byte
}

func decodeStoredValue(b []byte) (StoredValue, error) {
	if len(b) < 1 {
		return StoredValue{}, dataErrf(b, 0, nil, "empty value store entry")
	}
	return StoredValue{TypeID: ValueType(b[0]), Data: bytes.Clone(b[1:])}, nil
}

func (sv StoredValue) Value() (Value, error) {
	return UnmarshalValue(sv.TypeID, sv.Data)
}
