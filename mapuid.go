package refstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"
)

// MapUIDStore assigns UIDs to map definitions. The forward table maps the
// encoded MapDefinition to its UID and the reverse table maps the UID back
// to the msgpack-encoded MapDefinition.
//
// UIDs of committed pairs are cached. A newly allocated UID enters the cache
// only once its transaction commits; deleting a pair evicts it at once.
type MapUIDStore struct {
	db    *DB
	cache *xsync.MapOf[string, UID]
}

func newMapUIDStore(db *DB) *MapUIDStore {
	return &MapUIDStore{
		db:    db,
		cache: xsync.NewMapOf[string, UID](),
	}
}

func (s *MapUIDStore) encodeDef(def MapDefinition) *pooledBuf {
	kb := s.db.bufs.acquire(keyBufCap)
	def.appendTo(&kb.bytesBuilder)
	return kb
}

func (s *MapUIDStore) getUID(tx *Tx, key []byte) (UID, bool, error) {
	if uid, ok := s.cache.Load(string(key)); ok {
		return uid, true, nil
	}
	raw := tx.bucket(tableMapUIDForward).Get(key)
	if raw == nil {
		return 0, false, nil
	}
	uid, err := decodeUID(raw)
	if err != nil {
		return 0, false, tableErrf(tableMapUIDForward, key, err, "")
	}
	return uid, true, nil
}

// GetUID returns the UID of def if one has been assigned.
func (s *MapUIDStore) GetUID(tx *Tx, def MapDefinition) (UID, bool, error) {
	kb := s.encodeDef(def)
	defer kb.release()
	return s.getUID(tx, kb.Bytes())
}

// GetOrCreateUID returns the UID of def, allocating the next free one if
// def has none yet.
func (s *MapUIDStore) GetOrCreateUID(tx *Tx, def MapDefinition) (UID, error) {
	kb := s.encodeDef(def)
	defer kb.release()

	uid, found, err := s.getUID(tx, kb.Bytes())
	if found || err != nil {
		return uid, err
	}

	uid = 1
	if last, ok := s.maxUsedUID(tx); ok {
		if last == maxUID {
			return 0, fmt.Errorf("%s: UID space exhausted", tableMapUIDReverse)
		}
		uid = last + 1
	}

	var rb bytesBuilder
	if err := encodeMsgpack(&rb, &def); err != nil {
		return 0, err
	}
	uidBuf := s.db.bufs.acquire(uidBufCap)
	uid.appendTo(&uidBuf.bytesBuilder)
	if err := tx.putBuf(tableMapUIDForward, kb.Bytes(), uidBuf); err != nil {
		return 0, err
	}
	if err := tx.put(tableMapUIDReverse, uid.Bytes(), rb.Buf); err != nil {
		return 0, err
	}

	cacheKey := string(kb.Bytes())
	tx.OnCommit(func() {
		s.cache.Store(cacheKey, uid)
	})
	s.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "assigned map UID", slog.String("map", def.String()), slog.String("uid", uid.String()))
	return uid, nil
}

// maxUsedUID is the highest UID of the reverse table or of any entry table,
// so that a new map never adopts entries orphaned by a failed purge.
func (s *MapUIDStore) maxUsedUID(tx *Tx) (UID, bool) {
	var result UID
	var found bool
	for _, table := range []string{tableMapUIDReverse, tableKeyValueStore, tableRangeStore} {
		if uid, ok := maxUIDOf(tx, table); ok && (!found || uid > result) {
			result, found = uid, true
		}
	}
	return result, found
}

// GetMapDefinition returns the map definition that uid was assigned to.
func (s *MapUIDStore) GetMapDefinition(tx *Tx, uid UID) (MapDefinition, bool, error) {
	var key [UIDLength]byte
	raw := tx.bucket(tableMapUIDReverse).Get(uidKey(&key, uid))
	if raw == nil {
		return MapDefinition{}, false, nil
	}
	var def MapDefinition
	if err := decodeMsgpack(raw, &def); err != nil {
		return MapDefinition{}, false, tableErrf(tableMapUIDReverse, key[:], err, "")
	}
	return def, true, nil
}

// MapNames returns the names of all maps of streamDef, in key order.
func (s *MapUIDStore) MapNames(tx *Tx, streamDef RefStreamDefinition) ([]string, error) {
	var names []string
	err := s.forEachMap(tx, streamDef, func(def MapDefinition, uid UID) error {
		names = append(names, def.MapName)
		return nil
	})
	return names, err
}

// NextMapUID returns the UID of the first remaining map of streamDef.
func (s *MapUIDStore) NextMapUID(tx *Tx, streamDef RefStreamDefinition) (UID, bool, error) {
	var result UID
	var found bool
	err := s.forEachMap(tx, streamDef, func(def MapDefinition, uid UID) error {
		result, found = uid, true
		return errStopIteration
	})
	if err == errStopIteration {
		err = nil
	}
	return result, found, err
}

func (s *MapUIDStore) forEachMap(tx *Tx, streamDef RefStreamDefinition, f func(def MapDefinition, uid UID) error) error {
	pb := s.db.bufs.acquire(keyBufCap)
	defer pb.release()
	streamDef.appendTo(&pb.bytesBuilder)

	return tx.forEach(tableMapUIDForward, RawPrefix(pb.Bytes()), func(k, v []byte) error {
		def, err := decodeMapDefinition(k)
		if err != nil {
			return tableErrf(tableMapUIDForward, k, err, "")
		}
		uid, err := decodeUID(v)
		if err != nil {
			return tableErrf(tableMapUIDForward, k, err, "")
		}
		return f(def, uid)
	})
}

// DeletePair removes uid and its map definition from both tables.
func (s *MapUIDStore) DeletePair(tx *Tx, uid UID) (bool, error) {
	var key [UIDLength]byte
	uidKey(&key, uid)

	raw := tx.bucket(tableMapUIDReverse).Get(key[:])
	if raw == nil {
		return false, nil
	}
	var def MapDefinition
	if err := decodeMsgpack(raw, &def); err != nil {
		return false, tableErrf(tableMapUIDReverse, key[:], err, "")
	}

	kb := s.encodeDef(def)
	defer kb.release()
	s.cache.Delete(string(kb.Bytes()))

	if err := tx.delete(tableMapUIDForward, kb.Bytes()); err != nil {
		return false, err
	}
	if err := tx.delete(tableMapUIDReverse, key[:]); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MapUIDStore) EntryCount(tx *Tx) int {
	return tx.bucket(tableMapUIDReverse).KeyCount()
}

// ForEachEntry visits the reverse table in UID order.
func (s *MapUIDStore) ForEachEntry(tx *Tx, f func(uid UID, def MapDefinition) error) error {
	return tx.forEach(tableMapUIDReverse, RawOO(), func(k, v []byte) error {
		uid, err := decodeUID(k)
		if err != nil {
			return tableErrf(tableMapUIDReverse, k, err, "")
		}
		var def MapDefinition
		if err := decodeMsgpack(v, &def); err != nil {
			return tableErrf(tableMapUIDReverse, k, err, "")
		}
		return f(uid, def)
	})
}

func (s *MapUIDStore) cachedCount() int {
	return s.cache.Size()
}

func uidKey(buf *[UIDLength]byte, uid UID) []byte {
	buf[0] = byte(uid >> 24)
	buf[1] = byte(uid >> 16)
	buf[2] = byte(uid >> 8)
	buf[3] = byte(uid)
	return buf[:]
}
