package refstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// UIDLength is the encoded size of a UID.
const UIDLength = 4

// UID is a compact surrogate id for a MapDefinition. It prefixes every key
// of the map's entries in KeyValueStore and RangeStore.
type UID uint32

const maxUID = UID(math.MaxUint32)

func (u UID) appendTo(bb *bytesBuilder) {
	bb.AppendFixedUint32(uint32(u))
}

func (u UID) Bytes() []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, UIDLength), uint32(u))
}

func (u UID) String() string {
	return fmt.Sprintf("%08x", uint32(u))
}

func decodeUID(b []byte) (UID, error) {
	if len(b) < UIDLength {
		return 0, dataErrf(b, 0, nil, "UID too short")
	}
	return UID(binary.BigEndian.Uint32(b)), nil
}

// uidPrefix returns the UID a table key starts with, or false for keys too
// short to carry one.
func uidPrefix(key []byte) (UID, bool) {
	if len(key) < UIDLength {
		return 0, false
	}
	return UID(binary.BigEndian.Uint32(key)), true
}
