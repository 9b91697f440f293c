package refstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type loaderState int

const (
	loaderNew loaderState = iota
	loaderInitialised
	loaderFailed
	loaderCompleted
	loaderClosed
)

var loaderStateNames = [...]string{"NEW", "INITIALISED", "FAILED", "COMPLETED", "CLOSED"}

func (s loaderState) String() string { return loaderStateNames[s] }

// LoaderCounts summarizes the outcome of the puts made through a Loader.
type LoaderCounts struct {
	Puts        int
	NewEntries  int
	Replaced    int // dup-key, value updated
	Unchanged   int // dup-key, value identical
	Removed     int // dup-key, nil value removed the entry
	Ignored     int // dup-key, overwrite disabled
	IgnoredNils int
}

// Loader loads one reference stream into the store. It holds the stream's
// lock from creation until Close, so loads and purges of the same stream
// never interleave.
//
// Puts are written through a batching write transaction; a load that is
// closed without Complete leaves the stream in LoadInProgress, and its data
// is removed by PurgePartialLoads.
//
// A put that fails after it started writing discards the uncommitted batch
// and fails the loader: later puts and Complete(Complete) are refused, and
// the load can only be finished as Failed or Terminated.
type Loader struct {
	s             *Store
	def           RefStreamDefinition
	effectiveTime time.Time

	btx       *BatchingWriteTx
	unlock    func()
	state     loaderState
	overwrite bool
	uids      map[string]UID
	counts    LoaderCounts
	startTime time.Time
}

// NewLoader creates a loader for def, blocking until no other load or
// purge of def is running. The caller must Close the loader.
func (s *Store) NewLoader(def RefStreamDefinition, effectiveTime time.Time) *Loader {
	return &Loader{
		s:             s,
		def:           def,
		effectiveTime: effectiveTime,
		btx:           s.db.NewBatchingWriteTx(s.db.opt.MaxPutsBeforeCommit),
		unlock:        s.lockStream(def),
		uids:          make(map[string]UID),
		startTime:     time.Now(),
	}
}

func (l *Loader) RefStreamDefinition() RefStreamDefinition {
	return l.def
}

func (l *Loader) Counts() LoaderCounts {
	return l.counts
}

// SetCommitInterval overrides the number of puts per committed batch.
func (l *Loader) SetCommitInterval(maxPutsBeforeCommit int) {
	l.btx.MaxBatchSize = maxPutsBeforeCommit
}

func (l *Loader) checkState(valid loaderState) error {
	if l.state != valid {
		return fmt.Errorf("%w: loader for %v is %v, wanted %v", errLoaderState, l.def, l.state, valid)
	}
	return nil
}

// Initialise records the stream as LoadInProgress. overwrite controls what
// happens to puts for keys that already have an entry.
func (l *Loader) Initialise(overwrite bool) (PutOutcome, error) {
	if err := l.checkState(loaderNew); err != nil {
		return PutOutcome{}, err
	}
	l.overwrite = overwrite

	now := l.s.db.now()
	info := ProcessingInfo{
		CreateTime:       now,
		LastAccessedTime: now,
		EffectiveTime:    l.effectiveTime,
		State:            LoadInProgress,
	}
	var outcome PutOutcome
	err := l.s.db.Tx(true, func(tx *Tx) (err error) {
		outcome, err = l.s.procInfo.Put(tx, l.def, info, true)
		return err
	})
	if err != nil {
		return PutOutcome{}, err
	}
	l.state = loaderInitialised
	return outcome, nil
}

func (l *Loader) mapUID(tx *Tx, mapDef MapDefinition) (UID, error) {
	if mapDef.RefStreamDefinition != l.def {
		return 0, fmt.Errorf("map %v does not belong to stream %v", mapDef, l.def)
	}
	if uid, ok := l.uids[mapDef.MapName]; ok {
		return uid, nil
	}
	uid, err := l.s.mapUIDs.GetOrCreateUID(tx, mapDef)
	if err != nil {
		return 0, err
	}
	l.uids[mapDef.MapName] = uid
	return uid, nil
}

// Put loads a single-key entry. A nil v removes an existing entry when
// overwriting and is ignored otherwise.
func (l *Loader) Put(mapDef MapDefinition, key string, v Value) (PutOutcome, error) {
	return l.put(mapDef, UIDLength+len(key), v, func(uid UID) entryTable {
		return kvEntry{l.s.kv, KeyValueStoreKey{UID: uid, Key: key}}
	})
}

// PutRange loads a range entry covering [r.From, r.To).
func (l *Loader) PutRange(mapDef MapDefinition, r Range, v Value) (PutOutcome, error) {
	if err := r.Validate(); err != nil {
		return PutOutcome{}, err
	}
	return l.put(mapDef, rangeStoreKeyLength, v, func(uid UID) entryTable {
		return rangeEntry{l.s.ranges, RangeStoreKey{UID: uid, Range: r}}
	})
}

func (l *Loader) put(mapDef MapDefinition, keySize int, v Value, entryFor func(uid UID) entryTable) (PutOutcome, error) {
	if err := l.checkState(loaderInitialised); err != nil {
		return PutOutcome{}, err
	}
	l.counts.Puts++

	if limit := l.s.db.st.MaxKeySize(); limit > 0 && keySize > limit {
		return PutOutcome{}, fmt.Errorf("%w: map %s: encoded key is %d bytes, limit %d", ErrKeyTooLarge, mapDef.MapName, keySize, limit)
	}

	var sv StagingValue
	if v != nil {
		var err error
		sv, err = l.s.stage(v)
		if err != nil {
			return PutOutcome{}, err
		}
	}

	tx, err := l.btx.Tx()
	if err != nil {
		return PutOutcome{}, err
	}
	uid, err := l.mapUID(tx, mapDef)
	if err != nil {
		return PutOutcome{}, l.fail(err)
	}
	outcome, err := l.putEntry(tx, entryFor(uid), v != nil, sv)
	if err != nil {
		return PutOutcome{}, l.fail(err)
	}
	if outcome.Success {
		l.s.db.metrics.entriesPut.Inc()
	}

	if _, err := l.btx.CommitIfRequired(); err != nil {
		return PutOutcome{}, l.fail(err)
	}
	return outcome, nil
}

// fail discards the uncommitted batch, which may hold a partially applied
// put, and moves the loader to the failed state.
func (l *Loader) fail(err error) error {
	l.btx.Abort()
	l.state = loaderFailed
	l.s.logger().LogAttrs(context.Background(), slog.LevelWarn, "reference load failed, uncommitted puts discarded",
		slog.String("stream", l.def.String()),
		slog.Int("puts", l.counts.Puts),
		slog.Any("err", err))
	return err
}

func (l *Loader) putEntry(tx *Tx, e entryTable, hasValue bool, sv StagingValue) (PutOutcome, error) {
	vs := l.s.values
	curr, exists, err := e.get(tx)
	if err != nil {
		return PutOutcome{}, err
	}

	if !exists {
		if !hasValue {
			l.counts.IgnoredNils++
			return PutOutcome{Success: true}, nil
		}
		vsk, err := vs.GetOrCreateKey(tx, sv)
		if err != nil {
			return PutOutcome{}, err
		}
		l.counts.NewEntries++
		return e.put(tx, vsk, l.overwrite)
	}

	if !l.overwrite {
		l.counts.Ignored++
		return failedDuplicateOutcome(), nil
	}

	if !hasValue {
		if _, err := vs.DeReferenceOrDeleteValue(tx, curr); err != nil {
			return PutOutcome{}, err
		}
		if _, err := e.delete(tx); err != nil {
			return PutOutcome{}, err
		}
		l.counts.Removed++
		return replacedEntryOutcome(), nil
	}

	if vs.AreValuesEqual(tx, curr, sv) {
		l.counts.Unchanged++
		return replacedEntryOutcome(), nil
	}

	if _, err := vs.DeReferenceOrDeleteValue(tx, curr); err != nil {
		return PutOutcome{}, err
	}
	vsk, err := vs.GetOrCreateKey(tx, sv)
	if err != nil {
		return PutOutcome{}, err
	}
	l.counts.Replaced++
	return e.put(tx, vsk, true)
}

// Complete commits outstanding puts and moves the stream to state, which
// must be Complete, Failed or Terminated.
func (l *Loader) Complete(state ProcessingState) error {
	switch state {
	case Complete, Failed, Terminated:
	default:
		return fmt.Errorf("invalid completion state %v", state)
	}
	if l.state == loaderCompleted {
		return nil
	}
	if l.state == loaderFailed {
		if state == Complete {
			return fmt.Errorf("%w: loader for %v is %v, cannot complete successfully", errLoaderState, l.def, l.state)
		}
	} else {
		if err := l.checkState(loaderInitialised); err != nil {
			return err
		}
		if err := l.btx.Commit(); err != nil {
			l.fail(err)
			return err
		}
	}
	err := l.s.db.Tx(true, func(tx *Tx) error {
		_, err := l.s.procInfo.UpdateProcessingState(tx, l.def, state, true)
		return err
	})
	if err != nil {
		return err
	}
	l.state = loaderCompleted

	c := l.counts
	l.s.logger().LogAttrs(context.Background(), slog.LevelInfo, "reference load finished",
		slog.String("stream", l.def.String()),
		slog.String("state", state.String()),
		slog.Int("puts", c.Puts),
		slog.Int("new", c.NewEntries),
		slog.Int("replaced", c.Replaced),
		slog.Int("unchanged", c.Unchanged),
		slog.Int("removed", c.Removed),
		slog.Int("ignored", c.Ignored),
		slog.Int("ignored_nils", c.IgnoredNils),
		slog.Int("maps", len(l.uids)),
		slog.Int("commits", l.btx.Commits()),
		slog.Duration("elapsed", time.Since(l.startTime)))
	return nil
}

// Close discards uncommitted puts and releases the stream lock. Safe to
// call more than once.
func (l *Loader) Close() {
	if l.state == loaderClosed {
		return
	}
	if l.state != loaderCompleted {
		l.s.logger().LogAttrs(context.Background(), slog.LevelDebug, "loader closed before completion", slog.String("stream", l.def.String()), slog.String("state", l.state.String()))
	}
	l.btx.Close()
	l.state = loaderClosed
	l.unlock()
}

// entryTable abstracts over a single-key entry and a range entry so that
// both share the overwrite logic.
type entryTable interface {
	get(tx *Tx) (ValueStoreKey, bool, error)
	put(tx *Tx, vsk ValueStoreKey, overwrite bool) (PutOutcome, error)
	delete(tx *Tx) (bool, error)
}

type kvEntry struct {
	db  *KeyValueStoreDB
	key KeyValueStoreKey
}

func (e kvEntry) get(tx *Tx) (ValueStoreKey, bool, error) { return e.db.Get(tx, e.key) }
func (e kvEntry) delete(tx *Tx) (bool, error)             { return e.db.Delete(tx, e.key) }
func (e kvEntry) put(tx *Tx, vsk ValueStoreKey, overwrite bool) (PutOutcome, error) {
	return e.db.Put(tx, e.key, vsk, overwrite)
}

type rangeEntry struct {
	db  *RangeStoreDB
	key RangeStoreKey
}

func (e rangeEntry) get(tx *Tx) (ValueStoreKey, bool, error) { return e.db.GetRaw(tx, e.key) }
func (e rangeEntry) delete(tx *Tx) (bool, error)             { return e.db.Delete(tx, e.key) }
func (e rangeEntry) put(tx *Tx, vsk ValueStoreKey, overwrite bool) (PutOutcome, error) {
	return e.db.Put(tx, e.key, vsk, overwrite)
}
