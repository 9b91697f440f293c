package refstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
)

// ValueStoreDB is the content-addressed value table. Entries are keyed by
// ValueStoreKey and hold the value type tag followed by the serialized value.
//
// Values sharing a content hash are told apart by UniqueID, allocated as the
// smallest id not in use for the hash.
type ValueStoreDB struct {
	db *DB
}

func newValueStoreDB(db *DB) *ValueStoreDB {
	return &ValueStoreDB{db: db}
}

// GetOrCreate returns the key of an existing entry holding exactly sv, or
// stores sv under a newly allocated key. created reports which happened.
// Reference counts are not touched.
func (s *ValueStoreDB) GetOrCreate(tx *Tx, sv StagingValue) (key ValueStoreKey, created bool, err error) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], sv.Hash)

	next := 0
	free := -1
	c := tx.scan(tableValueStore, RawPrefix(prefix[:]))
	defer c.Close()
	for c.Next() {
		k, err := decodeValueStoreKey(c.Key())
		if err != nil {
			return ValueStoreKey{}, false, tableErrf(tableValueStore, c.Key(), err, "")
		}
		if sv.matches(c.Value()) {
			return k, false, nil
		}
		if free < 0 && int(k.UniqueID) != next {
			free = next
		}
		next = int(k.UniqueID) + 1
	}
	if free < 0 {
		free = next
	}
	if free > math.MaxUint16 {
		return ValueStoreKey{}, false, fmt.Errorf("%w: hash %016x", ErrUniqueIDExhausted, sv.Hash)
	}

	key = ValueStoreKey{Hash: sv.Hash, UniqueID: uint16(free)}
	if free > 0 && s.db.verbose {
		s.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "value hash collision", slog.String("key", key.String()))
	}

	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)

	vb := s.db.bufs.acquire(sv.encodedLen())
	sv.appendTo(&vb.bytesBuilder)
	if err := tx.putBuf(tableValueStore, kb.Bytes(), vb); err != nil {
		return ValueStoreKey{}, false, err
	}
	return key, true, nil
}

func (s *ValueStoreDB) getRaw(tx *Tx, key ValueStoreKey) []byte {
	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)
	return tx.bucket(tableValueStore).Get(kb.Bytes())
}

// Get returns the stored value for key.
func (s *ValueStoreDB) Get(tx *Tx, key ValueStoreKey) (StoredValue, bool, error) {
	raw := s.getRaw(tx, key)
	if raw == nil {
		return StoredValue{}, false, nil
	}
	sv, err := decodeStoredValue(raw)
	if err != nil {
		return StoredValue{}, false, tableErrf(tableValueStore, key.Bytes(), err, "")
	}
	return sv, true, nil
}

// GetValue returns the decoded value for key.
func (s *ValueStoreDB) GetValue(tx *Tx, key ValueStoreKey) (Value, bool, error) {
	sv, found, err := s.Get(tx, key)
	if !found || err != nil {
		return nil, found, err
	}
	v, err := sv.Value()
	if err != nil {
		return nil, true, tableErrf(tableValueStore, key.Bytes(), err, "")
	}
	return v, true, nil
}

// AreValuesEqual compares the stored bytes for key with sv without decoding.
func (s *ValueStoreDB) AreValuesEqual(tx *Tx, key ValueStoreKey, sv StagingValue) bool {
	raw := s.getRaw(tx, key)
	return raw != nil && sv.matches(raw)
}

// Delete removes the entry for key. Reference counts are not touched.
func (s *ValueStoreDB) Delete(tx *Tx, key ValueStoreKey) (bool, error) {
	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)
	b := tx.bucket(tableValueStore)
	if b.Get(kb.Bytes()) == nil {
		return false, nil
	}
	if err := tx.delete(tableValueStore, kb.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ValueStoreDB) EntryCount(tx *Tx) int {
	return tx.bucket(tableValueStore).KeyCount()
}

func (s *ValueStoreDB) ForEachEntry(tx *Tx, rang RawRange, f func(key ValueStoreKey, sv StoredValue) error) error {
	return tx.forEach(tableValueStore, rang, func(k, v []byte) error {
		key, err := decodeValueStoreKey(k)
		if err != nil {
			return tableErrf(tableValueStore, k, err, "")
		}
		sv, err := decodeStoredValue(v)
		if err != nil {
			return tableErrf(tableValueStore, k, err, "")
		}
		return f(key, sv)
	})
}
