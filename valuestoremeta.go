package refstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxReferenceCount is the largest reference count a value can have.
const MaxReferenceCount = math.MaxUint32

const valueMetaLength = 1 + 4

// ValueStoreMetaDB holds the type tag and reference count of every
// ValueStore entry under the same key.
type ValueStoreMetaDB struct {
	db *DB
}

func newValueStoreMetaDB(db *DB) *ValueStoreMetaDB {
	return &ValueStoreMetaDB{db: db}
}

type valueMeta struct {
	TypeID   ValueType
	RefCount uint32
}

func decodeValueMeta(b []byte) (valueMeta, error) {
	if len(b) != valueMetaLength {
		return valueMeta{}, dataErrf(b, 0, nil, "value meta must be %d bytes", valueMetaLength)
	}
	return valueMeta{TypeID: ValueType(b[0]), RefCount: binary.BigEndian.Uint32(b[1:])}, nil
}

func (s *ValueStoreMetaDB) put(tx *Tx, key []byte, m valueMeta) error {
	vb := s.db.bufs.acquire(valueMetaLength)
	vb.AppendByte(byte(m.TypeID))
	vb.AppendFixedUint32(m.RefCount)
	return tx.putBuf(tableValueStoreMeta, key, vb)
}

func (s *ValueStoreMetaDB) get(tx *Tx, key []byte) (valueMeta, bool, error) {
	raw := tx.bucket(tableValueStoreMeta).Get(key)
	if raw == nil {
		return valueMeta{}, false, nil
	}
	m, err := decodeValueMeta(raw)
	if err != nil {
		return valueMeta{}, false, tableErrf(tableValueStoreMeta, key, err, "")
	}
	return m, true, nil
}

// CreateMetaEntryForValue records a new value with a reference count of one.
func (s *ValueStoreMetaDB) CreateMetaEntryForValue(tx *Tx, key ValueStoreKey, sv StagingValue) error {
	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)
	return s.put(tx, kb.Bytes(), valueMeta{TypeID: sv.TypeID, RefCount: 1})
}

// IncrementReferenceCount adds one reference to key. At MaxReferenceCount it
// fails with ErrReferenceCountOverflow and leaves the entry unchanged.
func (s *ValueStoreMetaDB) IncrementReferenceCount(tx *Tx, key ValueStoreKey) error {
	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)

	m, found, err := s.get(tx, kb.Bytes())
	if err != nil {
		return err
	} else if !found {
		return tableErrf(tableValueStoreMeta, kb.Bytes(), ErrNotFound, "increment")
	}
	if m.RefCount >= MaxReferenceCount {
		return tableErrf(tableValueStoreMeta, kb.Bytes(), ErrReferenceCountOverflow, "increment")
	}
	m.RefCount++
	return s.put(tx, kb.Bytes(), m)
}

// DeReferenceOrDeleteValue removes one reference from key. When the last
// reference goes, onDelete is called and then the meta entry is removed;
// deleted reports that case.
func (s *ValueStoreMetaDB) DeReferenceOrDeleteValue(tx *Tx, key ValueStoreKey, onDelete func(tx *Tx, key ValueStoreKey) error) (deleted bool, err error) {
	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)

	m, found, err := s.get(tx, kb.Bytes())
	if err != nil {
		return false, err
	} else if !found {
		return false, tableErrf(tableValueStoreMeta, kb.Bytes(), ErrNotFound, "dereference")
	}

	if m.RefCount <= 1 {
		if onDelete != nil {
			if err := onDelete(tx, key); err != nil {
				return false, fmt.Errorf("deleting value %v: %w", key, err)
			}
		}
		if err := tx.delete(tableValueStoreMeta, kb.Bytes()); err != nil {
			return false, err
		}
		return true, nil
	}
	m.RefCount--
	return false, s.put(tx, kb.Bytes(), m)
}

func (s *ValueStoreMetaDB) GetReferenceCount(tx *Tx, key ValueStoreKey) (uint32, bool, error) {
	m, found, err := s.getByKey(tx, key)
	return m.RefCount, found, err
}

func (s *ValueStoreMetaDB) GetTypeID(tx *Tx, key ValueStoreKey) (ValueType, bool, error) {
	m, found, err := s.getByKey(tx, key)
	return m.TypeID, found, err
}

func (s *ValueStoreMetaDB) getByKey(tx *Tx, key ValueStoreKey) (valueMeta, bool, error) {
	kb := s.db.bufs.acquire(valueKeyBufCap)
	defer kb.release()
	key.appendTo(&kb.bytesBuilder)
	return s.get(tx, kb.Bytes())
}

func (s *ValueStoreMetaDB) EntryCount(tx *Tx) int {
	return tx.bucket(tableValueStoreMeta).KeyCount()
}

func (s *ValueStoreMetaDB) ForEachEntry(tx *Tx, rang RawRange, f func(key ValueStoreKey, typ ValueType, refCount uint32) error) error {
	return tx.forEach(tableValueStoreMeta, rang, func(k, v []byte) error {
		key, err := decodeValueStoreKey(k)
		if err != nil {
			return tableErrf(tableValueStoreMeta, k, err, "")
		}
		m, err := decodeValueMeta(v)
		if err != nil {
			return tableErrf(tableValueStoreMeta, k, err, "")
		}
		return f(key, m.TypeID, m.RefCount)
	})
}
