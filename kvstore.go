package refstore

// KeyValueStoreDB maps (UID, key) to the ValueStoreKey of the entry's value.
// Keys are the UID followed by the key's UTF-8 bytes, so all entries of one
// map are contiguous.
type KeyValueStoreDB struct {
	db *DB
}

func newKeyValueStoreDB(db *DB) *KeyValueStoreDB {
	return &KeyValueStoreDB{db: db}
}

func (s *KeyValueStoreDB) encodeKey(key KeyValueStoreKey) *pooledBuf {
	kb := s.db.bufs.acquire(UIDLength + len(key.Key))
	key.appendTo(&kb.bytesBuilder)
	return kb
}

// Put stores vsk under key. An existing entry is replaced only when
// overwrite is set; otherwise the outcome reports a failed duplicate.
func (s *KeyValueStoreDB) Put(tx *Tx, key KeyValueStoreKey, vsk ValueStoreKey, overwrite bool) (PutOutcome, error) {
	kb := s.encodeKey(key)
	defer kb.release()

	exists := tx.bucket(tableKeyValueStore).Get(kb.Bytes()) != nil
	if exists && !overwrite {
		return failedDuplicateOutcome(), nil
	}

	vb := s.db.bufs.acquire(valueKeyBufCap)
	vsk.appendTo(&vb.bytesBuilder)
	if err := tx.putBuf(tableKeyValueStore, kb.Bytes(), vb); err != nil {
		return PutOutcome{}, err
	}
	if exists {
		return replacedEntryOutcome(), nil
	}
	return newEntryOutcome(), nil
}

func (s *KeyValueStoreDB) Get(tx *Tx, key KeyValueStoreKey) (ValueStoreKey, bool, error) {
	kb := s.encodeKey(key)
	defer kb.release()

	raw := tx.bucket(tableKeyValueStore).Get(kb.Bytes())
	if raw == nil {
		return ValueStoreKey{}, false, nil
	}
	vsk, err := decodeValueStoreKey(raw)
	if err != nil {
		return ValueStoreKey{}, false, tableErrf(tableKeyValueStore, kb.Bytes(), err, "")
	}
	return vsk, true, nil
}

func (s *KeyValueStoreDB) Delete(tx *Tx, key KeyValueStoreKey) (bool, error) {
	kb := s.encodeKey(key)
	defer kb.release()

	if tx.bucket(tableKeyValueStore).Get(kb.Bytes()) == nil {
		return false, nil
	}
	return true, tx.delete(tableKeyValueStore, kb.Bytes())
}

// GetMaxUID returns the highest UID that has any entries.
func (s *KeyValueStoreDB) GetMaxUID(tx *Tx) (UID, bool) {
	return maxUIDOf(tx, tableKeyValueStore)
}

// DeleteMapEntries removes every entry of the map with the given UID,
// calling f with each entry before it is removed. Returns the number of
// entries removed.
func (s *KeyValueStoreDB) DeleteMapEntries(btx *BatchingWriteTx, uid UID, f func(tx *Tx, key KeyValueStoreKey, vsk ValueStoreKey) error) (int, error) {
	return deleteEntriesWithPrefix(btx, tableKeyValueStore, uid.Bytes(), func(tx *Tx, k, v []byte) error {
		key, err := decodeKeyValueStoreKey(k)
		if err != nil {
			return tableErrf(tableKeyValueStore, k, err, "")
		}
		vsk, err := decodeValueStoreKey(v)
		if err != nil {
			return tableErrf(tableKeyValueStore, k, err, "")
		}
		if f == nil {
			return nil
		}
		return f(tx, key, vsk)
	})
}

func (s *KeyValueStoreDB) EntryCount(tx *Tx) int {
	return tx.bucket(tableKeyValueStore).KeyCount()
}

func (s *KeyValueStoreDB) EntryCountForUID(tx *Tx, uid UID) int {
	return countEntriesWithPrefix(tx, tableKeyValueStore, uid.Bytes())
}

func (s *KeyValueStoreDB) ForEachEntry(tx *Tx, rang RawRange, f func(key KeyValueStoreKey, vsk ValueStoreKey) error) error {
	return tx.forEach(tableKeyValueStore, rang, func(k, v []byte) error {
		key, err := decodeKeyValueStoreKey(k)
		if err != nil {
			return tableErrf(tableKeyValueStore, k, err, "")
		}
		vsk, err := decodeValueStoreKey(v)
		if err != nil {
			return tableErrf(tableKeyValueStore, k, err, "")
		}
		return f(key, vsk)
	})
}
