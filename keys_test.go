package refstore

import (
	"bytes"
	"math"
	"testing"
)

func TestValueStoreKey(t *testing.T) {
	k := ValueStoreKey{Hash: 0x0102030405060708, UniqueID: 0x0a0b}
	deepEqual(t, hexstr(k.Bytes()), "01020304050607080a0b")
	deepEqual(t, k.String(), "0102030405060708:2571")
	deepEqual(t, must(decodeValueStoreKey(k.Bytes())), k)
	deepEqual(t, must(ParseValueStoreKey(k.String())), k)

	if _, err := decodeValueStoreKey(x("0102")); err == nil {
		t.Fatalf("decodeValueStoreKey(short) err = nil, wanted error")
	}
	for _, s := range []string{"", "abc", "zz:1", "01:70000"} {
		if _, err := ParseValueStoreKey(s); err == nil {
			t.Errorf("** ParseValueStoreKey(%q) err = nil, wanted error", s)
		}
	}
}

func TestKeyValueStoreKey(t *testing.T) {
	k := KeyValueStoreKey{UID: 0x01020304, Key: "key"}
	deepEqual(t, hexstr(k.Bytes()), "010203046b6579")
	deepEqual(t, must(decodeKeyValueStoreKey(k.Bytes())), k)
	deepEqual(t, k.String(), "01020304:key")

	empty := KeyValueStoreKey{UID: 7}
	deepEqual(t, must(decodeKeyValueStoreKey(empty.Bytes())), empty)
}

func TestRangeStoreKey(t *testing.T) {
	k := RangeStoreKey{UID: 3, Range: Range{From: 10, To: 20}}
	deepEqual(t, hexstr(k.Bytes()), "00000003"+"000000000000000a"+"0000000000000014")
	deepEqual(t, must(decodeRangeStoreKey(k.Bytes())), k)
	deepEqual(t, k.String(), "00000003:[10, 20)")
}

func TestRangeStoreKey_sortOrder(t *testing.T) {
	keys := []RangeStoreKey{
		{UID: 1, Range: Range{From: 0, To: 1}},
		{UID: 1, Range: Range{From: 0, To: 255}},
		{UID: 1, Range: Range{From: 0, To: 256}},
		{UID: 1, Range: Range{From: 1, To: 2}},
		{UID: 1, Range: Range{From: 255, To: math.MaxInt64}},
		{UID: 1, Range: Range{From: math.MaxInt64 - 1, To: math.MaxInt64}},
		{UID: 2, Range: Range{From: 0, To: 1}},
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1].Bytes(), keys[i].Bytes()) >= 0 {
			t.Errorf("** %v does not sort before %v", keys[i-1], keys[i])
		}
	}
}

func TestRange(t *testing.T) {
	for _, r := range []Range{{0, 1}, {5, 10}, {0, math.MaxInt64}} {
		if err := r.Validate(); err != nil {
			t.Errorf("** %v.Validate() = %v, wanted nil", r, err)
		}
	}
	for _, r := range []Range{{1, 1}, {5, 4}, {-1, 5}, {-5, -1}} {
		isErr(t, r.Validate(), ErrInvalidRange)
	}

	r := Range{From: 10, To: 20}
	if r.Contains(9) || !r.Contains(10) || !r.Contains(19) || r.Contains(20) {
		t.Fatalf("%v.Contains boundaries are wrong", r)
	}
}

func TestRefStreamDefinition(t *testing.T) {
	def := RefStreamDefinition{PipelineUUID: "uuid", PipelineVersion: "v2", StreamID: 42, PartIndex: 3}
	deepEqual(t, must(decodeRefStreamDefinition(def.Bytes())), def)
	deepEqual(t, def.String(), "uuid@v2/42:3")

	if _, err := decodeRefStreamDefinition(append(def.Bytes(), 0)); err == nil {
		t.Fatalf("decodeRefStreamDefinition(trailing) err = nil, wanted error")
	}
	if _, err := decodeRefStreamDefinition(def.Bytes()[:5]); err == nil {
		t.Fatalf("decodeRefStreamDefinition(truncated) err = nil, wanted error")
	}

	// a stream definition is a prefix of each of its map definitions only
	other := def
	other.PipelineUUID = "uuid2"
	md := MapDefinition{RefStreamDefinition: other, MapName: "m"}
	if bytes.HasPrefix(md.Bytes(), def.Bytes()) {
		t.Fatalf("map of %v is prefixed by %v", other, def)
	}
}

func TestMapDefinition(t *testing.T) {
	md := MapDefinition{RefStreamDefinition: testStream, MapName: "USER_TO_LOCATION"}
	deepEqual(t, must(decodeMapDefinition(md.Bytes())), md)
	if !bytes.HasPrefix(md.Bytes(), testStream.Bytes()) {
		t.Fatalf("map definition is not prefixed by its stream definition")
	}

	var bb bytesBuilder
	ensure(encodeMsgpack(&bb, &md))
	var decoded MapDefinition
	ensure(decodeMsgpack(bb.Buf, &decoded))
	deepEqual(t, decoded, md)
}

func TestUID(t *testing.T) {
	u := UID(0x01020304)
	deepEqual(t, hexstr(u.Bytes()), "01020304")
	deepEqual(t, u.String(), "01020304")
	deepEqual(t, must(decodeUID(u.Bytes())), u)
	if _, err := decodeUID(x("01")); err == nil {
		t.Fatalf("decodeUID(short) err = nil, wanted error")
	}
	var buf [UIDLength]byte
	deepEqual(t, hexstr(uidKey(&buf, u)), "01020304")
	if p, ok := uidPrefix(x("0102030405")); !ok || p != u {
		t.Fatalf("uidPrefix = (%v, %v), wanted (%v, true)", p, ok, u)
	}
}
