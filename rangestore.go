package refstore

import (
	"bytes"
	"encoding/binary"
	"math"
)

// CompareResult classifies a RangeStore key against a lookup point.
type CompareResult int

const (
	// BelowRange means the point lies below the range's From.
	BelowRange CompareResult = iota
	InRange
	// AboveRange means the point lies at or above the range's To.
	AboveRange
	// MapUIDMismatch means the key belongs to a different map.
	MapUIDMismatch
)

func (r CompareResult) String() string {
	switch r {
	case BelowRange:
		return "BelowRange"
	case InRange:
		return "InRange"
	case AboveRange:
		return "AboveRange"
	case MapUIDMismatch:
		return "MapUIDMismatch"
	default:
		return "CompareResult(?)"
	}
}

// IsKeyInRange classifies an encoded RangeStore key against point within
// the map identified by uid.
func IsKeyInRange(keyBytes []byte, uid UID, point int64) CompareResult {
	k, err := decodeRangeStoreKey(keyBytes)
	if err != nil || k.UID != uid {
		return MapUIDMismatch
	}
	switch {
	case point < k.Range.From:
		return BelowRange
	case point >= k.Range.To:
		return AboveRange
	default:
		return InRange
	}
}

// RangeStoreDB maps (UID, [From, To)) to the ValueStoreKey of the entry's
// value. Keys encode both bounds big-endian after the UID, so entries of a
// map sort by From and then by To.
type RangeStoreDB struct {
	db *DB
}

func newRangeStoreDB(db *DB) *RangeStoreDB {
	return &RangeStoreDB{db: db}
}

func (s *RangeStoreDB) encodeKey(key RangeStoreKey) *pooledBuf {
	kb := s.db.bufs.acquire(rangeKeyBufCap)
	key.appendTo(&kb.bytesBuilder)
	return kb
}

// Get finds the value of the range of map uid containing point. When
// several ranges contain it, the one with the greatest From wins, then the
// one with the greatest To.
func (s *RangeStoreDB) Get(tx *Tx, uid UID, point int64) (ValueStoreKey, bool, error) {
	if point < 0 {
		return ValueStoreKey{}, false, nil
	}

	// The first key after every range starting at or below point.
	sb := s.db.bufs.acquire(rangeKeyBufCap)
	defer sb.release()
	uid.appendTo(&sb.bytesBuilder)
	sb.AppendFixedUint64(uint64(point))
	sb.AppendFixedUint64(math.MaxUint64)

	cur := tx.bucket(tableRangeStore).Cursor()
	defer cur.Close()
	k, v := cur.Seek(sb.Bytes())
	if k == nil {
		k, v = cur.Last()
	} else {
		k, v = cur.Prev()
	}
	for ; k != nil; k, v = cur.Prev() {
		switch IsKeyInRange(k, uid, point) {
		case InRange:
			vsk, err := decodeValueStoreKey(v)
			if err != nil {
				return ValueStoreKey{}, false, tableErrf(tableRangeStore, k, err, "")
			}
			return vsk, true, nil
		case MapUIDMismatch:
			return ValueStoreKey{}, false, nil
		}
	}
	return ValueStoreKey{}, false, nil
}

// Put stores vsk under key with the same duplicate handling as
// KeyValueStoreDB.Put.
func (s *RangeStoreDB) Put(tx *Tx, key RangeStoreKey, vsk ValueStoreKey, overwrite bool) (PutOutcome, error) {
	if err := key.Range.Validate(); err != nil {
		return PutOutcome{}, err
	}
	kb := s.encodeKey(key)
	defer kb.release()

	exists := tx.bucket(tableRangeStore).Get(kb.Bytes()) != nil
	if exists && !overwrite {
		return failedDuplicateOutcome(), nil
	}

	vb := s.db.bufs.acquire(valueKeyBufCap)
	vsk.appendTo(&vb.bytesBuilder)
	if err := tx.putBuf(tableRangeStore, kb.Bytes(), vb); err != nil {
		return PutOutcome{}, err
	}
	if exists {
		return replacedEntryOutcome(), nil
	}
	return newEntryOutcome(), nil
}

// GetRaw returns the value key stored for exactly key.
func (s *RangeStoreDB) GetRaw(tx *Tx, key RangeStoreKey) (ValueStoreKey, bool, error) {
	kb := s.encodeKey(key)
	defer kb.release()

	raw := tx.bucket(tableRangeStore).Get(kb.Bytes())
	if raw == nil {
		return ValueStoreKey{}, false, nil
	}
	vsk, err := decodeValueStoreKey(raw)
	if err != nil {
		return ValueStoreKey{}, false, tableErrf(tableRangeStore, kb.Bytes(), err, "")
	}
	return vsk, true, nil
}

func (s *RangeStoreDB) Delete(tx *Tx, key RangeStoreKey) (bool, error) {
	kb := s.encodeKey(key)
	defer kb.release()

	if tx.bucket(tableRangeStore).Get(kb.Bytes()) == nil {
		return false, nil
	}
	return true, tx.delete(tableRangeStore, kb.Bytes())
}

// ContainsMapDefinition reports whether the map with the given UID has any
// range entries.
func (s *RangeStoreDB) ContainsMapDefinition(tx *Tx, uid UID) bool {
	var prefix [UIDLength]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(uid))
	cur := tx.bucket(tableRangeStore).Cursor()
	defer cur.Close()
	k, _ := cur.Seek(prefix[:])
	return k != nil && bytes.HasPrefix(k, prefix[:])
}

func (s *RangeStoreDB) GetMaxUID(tx *Tx) (UID, bool) {
	return maxUIDOf(tx, tableRangeStore)
}

// DeleteMapEntries removes every range entry of the map with the given UID,
// calling f with each entry before it is removed.
func (s *RangeStoreDB) DeleteMapEntries(btx *BatchingWriteTx, uid UID, f func(tx *Tx, key RangeStoreKey, vsk ValueStoreKey) error) (int, error) {
	return deleteEntriesWithPrefix(btx, tableRangeStore, uid.Bytes(), func(tx *Tx, k, v []byte) error {
		key, err := decodeRangeStoreKey(k)
		if err != nil {
			return tableErrf(tableRangeStore, k, err, "")
		}
		vsk, err := decodeValueStoreKey(v)
		if err != nil {
			return tableErrf(tableRangeStore, k, err, "")
		}
		if f == nil {
			return nil
		}
		return f(tx, key, vsk)
	})
}

func (s *RangeStoreDB) EntryCount(tx *Tx) int {
	return tx.bucket(tableRangeStore).KeyCount()
}

func (s *RangeStoreDB) EntryCountForUID(tx *Tx, uid UID) int {
	return countEntriesWithPrefix(tx, tableRangeStore, uid.Bytes())
}

func (s *RangeStoreDB) ForEachEntry(tx *Tx, rang RawRange, f func(key RangeStoreKey, vsk ValueStoreKey) error) error {
	return tx.forEach(tableRangeStore, rang, func(k, v []byte) error {
		key, err := decodeRangeStoreKey(k)
		if err != nil {
			return tableErrf(tableRangeStore, k, err, "")
		}
		vsk, err := decodeValueStoreKey(v)
		if err != nil {
			return tableErrf(tableRangeStore, k, err, "")
		}
		return f(key, vsk)
	})
}
