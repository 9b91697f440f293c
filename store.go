package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// lastAccessedResolution is the smallest change of a stream's last accessed
// time that is written back on lookup.
const lastAccessedResolution = time.Second

// Store is an off-heap reference data store: maps of keys and key ranges to
// deduplicated values, grouped by the reference stream they were loaded from.
type Store struct {
	db     *DB
	hasher Hasher

	values   *ValueStore
	kv       *KeyValueStoreDB
	ranges   *RangeStoreDB
	procInfo *ProcessingInfoDB
	mapUIDs  *MapUIDStore

	streamLocks *xsync.MapOf[string, *sync.Mutex]
	purgeLock   sync.Mutex
}

// Open opens the store at path (or InMemory), creating it if needed, and
// purges any loads or purges left unfinished by a previous process.
func Open(path string, opt Options) (*Store, error) {
	hasher, err := NewHasher(opt.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("refstore: %w", err)
	}
	db, err := OpenDB(path, opt)
	if err != nil {
		return nil, err
	}
	err = db.Tx(true, func(tx *Tx) error {
		return checkHashAlgorithm(tx, hasher.Algorithm())
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("refstore: %w", err)
	}
	s := &Store{
		db:          db,
		hasher:      hasher,
		values:      newValueStore(db),
		kv:          newKeyValueStoreDB(db),
		ranges:      newRangeStoreDB(db),
		procInfo:    newProcessingInfoDB(db),
		mapUIDs:     newMapUIDStore(db),
		streamLocks: xsync.NewMapOf[string, *sync.Mutex](),
	}
	s.db.metrics.registerStore(s)

	if _, err := s.PurgePartialLoads(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *DB                             { return s.db }
func (s *Store) Hasher() Hasher                      { return s.hasher }
func (s *Store) ValueStore() *ValueStore             { return s.values }
func (s *Store) KeyValueStore() *KeyValueStoreDB     { return s.kv }
func (s *Store) RangeStore() *RangeStoreDB           { return s.ranges }
func (s *Store) ProcessingInfo() *ProcessingInfoDB   { return s.procInfo }
func (s *Store) MapUIDs() *MapUIDStore               { return s.mapUIDs }
func (s *Store) logger() *slog.Logger                { return s.db.logger }
func (s *Store) stage(v Value) (StagingValue, error) { return NewStagingValue(v, s.hasher) }

// lockStream serializes loads and purges of one reference stream.
func (s *Store) lockStream(def RefStreamDefinition) func() {
	mu, _ := s.streamLocks.LoadOrCompute(string(def.Bytes()), func() *sync.Mutex {
		return new(sync.Mutex)
	})
	start := time.Now()
	mu.Lock()
	if wait := time.Since(start); wait > time.Second {
		s.logger().LogAttrs(context.Background(), slog.LevelInfo, "waited for stream lock", slog.String("stream", def.String()), slog.Duration("wait", wait))
	}
	return mu.Unlock
}

// GetValue looks key up in the map. Keys are tried against single-key
// entries first and then, if the key is a non-negative integer, against
// range entries.
func (s *Store) GetValue(def MapDefinition, key string) (Value, bool, error) {
	var v Value
	var found bool
	err := s.db.ReadErr(func(tx *Tx) error {
		vsk, ok, err := s.getValueStoreKey(tx, def, key)
		if !ok || err != nil {
			return err
		}
		v, found, err = s.values.Get(tx, vsk)
		return err
	})
	return v, found, err
}

// ConsumeValueBytes passes the raw serialized value to f without decoding
// it. The bytes are only valid during the call.
func (s *Store) ConsumeValueBytes(def MapDefinition, key string, f func(typ ValueType, data []byte)) (bool, error) {
	var found bool
	err := s.db.ReadErr(func(tx *Tx) error {
		vsk, ok, err := s.getValueStoreKey(tx, def, key)
		if !ok || err != nil {
			return err
		}
		raw := s.values.values.getRaw(tx, vsk)
		if len(raw) == 0 {
			return nil
		}
		found = true
		f(ValueType(raw[0]), raw[1:])
		return nil
	})
	return found, err
}

func (s *Store) getValueStoreKey(tx *Tx, def MapDefinition, key string) (ValueStoreKey, bool, error) {
	uid, found, err := s.mapUIDs.GetUID(tx, def)
	if !found || err != nil {
		return ValueStoreKey{}, false, err
	}

	vsk, found, err := s.kv.Get(tx, KeyValueStoreKey{UID: uid, Key: key})
	if found || err != nil {
		return vsk, found, err
	}

	point, err := strconv.ParseInt(key, 10, 64)
	if err != nil || point < 0 {
		if s.ranges.ContainsMapDefinition(tx, uid) {
			return ValueStoreKey{}, false, fmt.Errorf("%w: %q in map %v", ErrNonNumericRangeKey, key, def)
		}
		return ValueStoreKey{}, false, nil
	}
	return s.ranges.Get(tx, uid, point)
}

// GetProcessingInfo returns the state of the stream and records the access.
func (s *Store) GetProcessingInfo(def RefStreamDefinition) (ProcessingInfo, bool, error) {
	var info ProcessingInfo
	var found bool
	err := s.db.ReadErr(func(tx *Tx) (err error) {
		info, found, err = s.procInfo.Get(tx, def)
		return err
	})
	if !found || err != nil {
		return info, found, err
	}

	now := s.db.now()
	if now.Sub(info.LastAccessedTime) >= lastAccessedResolution {
		err = s.db.Tx(true, func(tx *Tx) error {
			_, err := s.procInfo.SetLastAccessedTime(tx, def, now)
			return err
		})
		info.LastAccessedTime = now
	}
	return info, true, err
}

func (s *Store) GetLoadState(def RefStreamDefinition) (ProcessingState, bool, error) {
	info, found, err := s.GetProcessingInfo(def)
	return info.State, found, err
}

// Exists reports whether the stream has been loaded, in whatever state.
func (s *Store) Exists(def RefStreamDefinition) (bool, error) {
	var found bool
	err := s.db.ReadErr(func(tx *Tx) (err error) {
		_, found, err = s.procInfo.Get(tx, def)
		return err
	})
	return found, err
}

// StreamExists reports whether any part of any pipeline's load of streamID
// is present.
func (s *Store) StreamExists(streamID int64) (bool, error) {
	var found bool
	err := s.db.ReadErr(func(tx *Tx) (err error) {
		_, _, found, err = s.procInfo.FindFirstMatching(tx, nil, func(def RefStreamDefinition, _ ProcessingInfo) bool {
			return def.StreamID == streamID
		})
		return err
	})
	return found, err
}

// MapExists reports whether def has a UID. It says nothing about the state
// of the map's data.
func (s *Store) MapExists(def MapDefinition) (bool, error) {
	var found bool
	err := s.db.ReadErr(func(tx *Tx) (err error) {
		_, found, err = s.mapUIDs.GetUID(tx, def)
		return err
	})
	return found, err
}

func (s *Store) MapNames(def RefStreamDefinition) ([]string, error) {
	var names []string
	err := s.db.ReadErr(func(tx *Tx) (err error) {
		names, err = s.mapUIDs.MapNames(tx, def)
		return err
	})
	return names, err
}

// SetLastAccessedTime overrides the last accessed time of a stream.
func (s *Store) SetLastAccessedTime(def RefStreamDefinition, t time.Time) error {
	return s.db.Tx(true, func(tx *Tx) error {
		found, err := s.procInfo.SetLastAccessedTime(tx, def, t)
		if err == nil && !found {
			err = fmt.Errorf("%v: %w", def, ErrNotFound)
		}
		return err
	})
}

// SetProcessingState overrides the state of a stream.
func (s *Store) SetProcessingState(def RefStreamDefinition, state ProcessingState) error {
	return s.db.Tx(true, func(tx *Tx) error {
		found, err := s.procInfo.UpdateProcessingState(tx, def, state, true)
		if err == nil && !found {
			err = fmt.Errorf("%v: %w", def, ErrNotFound)
		}
		return err
	})
}

func (s *Store) KeyValueEntryCount() (n int) {
	s.db.Read(func(tx *Tx) { n = s.kv.EntryCount(tx) })
	return
}

func (s *Store) RangeValueEntryCount() (n int) {
	s.db.Read(func(tx *Tx) { n = s.ranges.EntryCount(tx) })
	return
}

func (s *Store) ProcessingInfoEntryCount() (n int) {
	s.db.Read(func(tx *Tx) { n = s.procInfo.EntryCount(tx) })
	return
}

func (s *Store) ValueStoreEntryCount() (n int) {
	s.db.Read(func(tx *Tx) { n = s.values.values.EntryCount(tx) })
	return
}

// ProcessingInfos returns every stream entry, optionally filtered by state.
func (s *Store) ProcessingInfos(states ...ProcessingState) (map[RefStreamDefinition]ProcessingInfo, error) {
	result := make(map[RefStreamDefinition]ProcessingInfo)
	err := s.db.ReadErr(func(tx *Tx) error {
		return s.procInfo.ForEachEntry(tx, RawOO(), func(def RefStreamDefinition, info ProcessingInfo) error {
			if len(states) > 0 && !containsState(states, info.State) {
				return nil
			}
			result[def] = info
			return nil
		})
	})
	return result, err
}

func containsState(states []ProcessingState, st ProcessingState) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

var errLoaderState = errors.New("invalid loader state")
