package refstore

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	valueStoreKeyLength = 8 + 2
	rangeStoreKeyLength = UIDLength + 8 + 8
)

// ValueStoreKey addresses a value by its content hash and a small id that
// tells apart distinct values sharing the hash.
type ValueStoreKey struct {
	Hash     uint64
	UniqueID uint16
}

func (k ValueStoreKey) appendTo(bb *bytesBuilder) {
	bb.AppendFixedUint64(k.Hash)
	bb.AppendFixedUint16(k.UniqueID)
}

func (k ValueStoreKey) Bytes() []byte {
	b := make([]byte, 0, valueStoreKeyLength)
	b = binary.BigEndian.AppendUint64(b, k.Hash)
	return binary.BigEndian.AppendUint16(b, k.UniqueID)
}

func (k ValueStoreKey) String() string {
	return fmt.Sprintf("%016x:%d", k.Hash, k.UniqueID)
}

func decodeValueStoreKey(b []byte) (ValueStoreKey, error) {
	if len(b) != valueStoreKeyLength {
		return ValueStoreKey{}, dataErrf(b, 0, nil, "value store key must be %d bytes", valueStoreKeyLength)
	}
	return ValueStoreKey{
		Hash:     binary.BigEndian.Uint64(b),
		UniqueID: binary.BigEndian.Uint16(b[8:]),
	}, nil
}

// ParseValueStoreKey parses the String form of a ValueStoreKey.
func ParseValueStoreKey(s string) (ValueStoreKey, error) {
	hs, ids, ok := strings.Cut(s, ":")
	if !ok {
		return ValueStoreKey{}, fmt.Errorf("invalid value store key %q", s)
	}
	h, err := strconv.ParseUint(hs, 16, 64)
	if err != nil {
		return ValueStoreKey{}, fmt.Errorf("invalid value store key %q: %w", s, err)
	}
	id, err := strconv.ParseUint(ids, 10, 16)
	if err != nil {
		return ValueStoreKey{}, fmt.Errorf("invalid value store key %q: %w", s, err)
	}
	return ValueStoreKey{Hash: h, UniqueID: uint16(id)}, nil
}

// KeyValueStoreKey identifies a single-key entry of a map.
type KeyValueStoreKey struct {
	UID UID
	Key string
}

func (k KeyValueStoreKey) appendTo(bb *bytesBuilder) {
	k.UID.appendTo(bb)
	bb.WriteString(k.Key)
}

func (k KeyValueStoreKey) Bytes() []byte {
	var bb bytesBuilder
	bb.Buf = make([]byte, 0, UIDLength+len(k.Key))
	k.appendTo(&bb)
	return bb.Buf
}

func (k KeyValueStoreKey) String() string {
	return k.UID.String() + ":" + k.Key
}

func decodeKeyValueStoreKey(b []byte) (KeyValueStoreKey, error) {
	uid, err := decodeUID(b)
	if err != nil {
		return KeyValueStoreKey{}, err
	}
	return KeyValueStoreKey{UID: uid, Key: string(b[UIDLength:])}, nil
}

// Range is a half-open interval [From, To) of non-negative integers.
type Range struct {
	From int64
	To   int64
}

func (r Range) Validate() error {
	if r.From < 0 || r.To < 0 {
		return fmt.Errorf("%w: %v has a negative bound", ErrInvalidRange, r)
	}
	if r.From >= r.To {
		return fmt.Errorf("%w: %v is empty", ErrInvalidRange, r)
	}
	return nil
}

func (r Range) Contains(v int64) bool {
	return v >= r.From && v < r.To
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.From, r.To)
}

// RangeStoreKey identifies a range entry of a map.
type RangeStoreKey struct {
	UID   UID
	Range Range
}

func (k RangeStoreKey) appendTo(bb *bytesBuilder) {
	k.UID.appendTo(bb)
	bb.AppendFixedUint64(uint64(k.Range.From))
	bb.AppendFixedUint64(uint64(k.Range.To))
}

func (k RangeStoreKey) Bytes() []byte {
	var bb bytesBuilder
	bb.Buf = make([]byte, 0, rangeStoreKeyLength)
	k.appendTo(&bb)
	return bb.Buf
}

func (k RangeStoreKey) String() string {
	return k.UID.String() + ":" + k.Range.String()
}

func decodeRangeStoreKey(b []byte) (RangeStoreKey, error) {
	if len(b) != rangeStoreKeyLength {
		return RangeStoreKey{}, dataErrf(b, 0, nil, "range store key must be %d bytes", rangeStoreKeyLength)
	}
	return RangeStoreKey{
		UID: UID(binary.BigEndian.Uint32(b)),
		Range: Range{
			From: int64(binary.BigEndian.Uint64(b[UIDLength:])),
			To:   int64(binary.BigEndian.Uint64(b[UIDLength+8:])),
		},
	}, nil
}

// RefStreamDefinition identifies one loaded part of a reference stream
// together with the pipeline that produced it.
type RefStreamDefinition struct {
	PipelineUUID    string
	PipelineVersion string
	StreamID        int64
	PartIndex       int64
}

func (d RefStreamDefinition) appendTo(bb *bytesBuilder) {
	bb.AppendVarString(d.PipelineUUID)
	bb.AppendVarString(d.PipelineVersion)
	bb.AppendFixedUint64(uint64(d.StreamID))
	bb.AppendFixedUint64(uint64(d.PartIndex))
}

func (d RefStreamDefinition) Bytes() []byte {
	var bb bytesBuilder
	d.appendTo(&bb)
	return bb.Buf
}

func (d RefStreamDefinition) String() string {
	return fmt.Sprintf("%s@%s/%d:%d", d.PipelineUUID, d.PipelineVersion, d.StreamID, d.PartIndex)
}

func decodeRefStreamDefinitionFrom(dec *byteDecoder) (RefStreamDefinition, error) {
	var d RefStreamDefinition
	uuid, err := dec.VarBytes()
	if err != nil {
		return d, err
	}
	ver, err := dec.VarBytes()
	if err != nil {
		return d, err
	}
	sid, err := dec.FixedUint64()
	if err != nil {
		return d, err
	}
	part, err := dec.FixedUint64()
	if err != nil {
		return d, err
	}
	d.PipelineUUID = string(uuid)
	d.PipelineVersion = string(ver)
	d.StreamID = int64(sid)
	d.PartIndex = int64(part)
	return d, nil
}

func decodeRefStreamDefinition(b []byte) (RefStreamDefinition, error) {
	dec := makeByteDecoder(b)
	d, err := decodeRefStreamDefinitionFrom(&dec)
	if err != nil {
		return d, err
	}
	if dec.Remaining() != 0 {
		return d, dataErrf(b, dec.Off(), nil, "trailing bytes after stream definition")
	}
	return d, nil
}

// MapDefinition names one map within a loaded reference stream.
type MapDefinition struct {
	RefStreamDefinition `msgpack:"stream"`
	MapName             string `msgpack:"map"`
}

func (d MapDefinition) appendTo(bb *bytesBuilder) {
	d.RefStreamDefinition.appendTo(bb)
	bb.WriteString(d.MapName)
}

func (d MapDefinition) Bytes() []byte {
	var bb bytesBuilder
	d.appendTo(&bb)
	return bb.Buf
}

func (d MapDefinition) String() string {
	return d.RefStreamDefinition.String() + "/" + d.MapName
}

func decodeMapDefinition(b []byte) (MapDefinition, error) {
	dec := makeByteDecoder(b)
	sd, err := decodeRefStreamDefinitionFrom(&dec)
	if err != nil {
		return MapDefinition{}, err
	}
	return MapDefinition{RefStreamDefinition: sd, MapName: string(dec.Rest())}, nil
}
