package refstore

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const trackTxns = true

// InMemory is a special path that opens a transient in-memory store.
const InMemory = ":memory:"

// Engine selects the storage engine backing a DB.
type Engine string

const (
	EngineBolt    Engine = "bolt"
	EngineLevelDB Engine = "leveldb"
)

// Table names. These are persisted and must never change.
const (
	tableValueStore     = "ValueStore"
	tableValueStoreMeta = "ValueStoreMeta"
	tableKeyValueStore  = "KeyValueStore"
	tableRangeStore     = "RangeStore"
	tableProcessingInfo = "ProcessingInfo"
	tableMapUIDForward  = "MapUidForward"
	tableMapUIDReverse  = "MapUidReverse"
	tableStoreInfo      = "StoreInfo"
)

var allTables = []string{
	tableValueStore,
	tableValueStoreMeta,
	tableKeyValueStore,
	tableRangeStore,
	tableProcessingInfo,
	tableMapUIDForward,
	tableMapUIDReverse,
	tableStoreInfo,
}

const (
	DefaultMaxPutsBeforeCommit         = 200_000
	DefaultMaxPurgeDeletesBeforeCommit = 200_000
	DefaultPurgeAge                    = 30 * 24 * time.Hour
)

type Options struct {
	Engine Engine

	// MaxSize limits the size of the store in bytes. A write transaction
	// that adds data to a store already at or above the limit fails to
	// commit with ErrStoreFull. Zero means unlimited.
	MaxSize int64

	// MaxPutsBeforeCommit is the number of loader puts after which the
	// batching write transaction commits. Defaults to
	// DefaultMaxPutsBeforeCommit; negative means commit only at the end.
	MaxPutsBeforeCommit int

	// MaxPurgeDeletesBeforeCommit is the number of entry deletions after
	// which a purge commits. Defaults to DefaultMaxPurgeDeletesBeforeCommit;
	// negative means commit once per stream.
	MaxPurgeDeletesBeforeCommit int

	// PurgeAge is the default age used by PurgeOldData.
	PurgeAge time.Duration

	HashAlgorithm HashAlgorithm

	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

func (opt *Options) setDefaults() {
	if opt.Engine == "" {
		opt.Engine = EngineBolt
	}
	if opt.MaxPutsBeforeCommit == 0 {
		opt.MaxPutsBeforeCommit = DefaultMaxPutsBeforeCommit
	}
	if opt.MaxPurgeDeletesBeforeCommit == 0 {
		opt.MaxPurgeDeletesBeforeCommit = DefaultMaxPurgeDeletesBeforeCommit
	}
	if opt.PurgeAge == 0 {
		opt.PurgeAge = DefaultPurgeAge
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
}

// DB is the storage environment shared by all tables of a store.
type DB struct {
	st      storage
	opt     Options
	logger  *slog.Logger
	verbose bool

	bufs    *bufferPool
	metrics *dbMetrics

	lastSize    atomic.Int64
	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

// OpenDB opens (creating if needed) the storage environment at path and
// ensures every table exists.
func OpenDB(path string, opt Options) (*DB, error) {
	opt.setDefaults()

	st, err := openStorage(path, &opt)
	if err != nil {
		return nil, fmt.Errorf("refstore: %w", err)
	}

	db := &DB{
		st:      st,
		opt:     opt,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		bufs:    newBufferPool(),
	}
	db.metrics = newDBMetrics(db)

	err = db.Tx(true, func(tx *Tx) error {
		for _, name := range allTables {
			if _, err := tx.stx.CreateBucket(name); err != nil {
				return fmt.Errorf("creating table %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("refstore: %w", err)
	}
	return db, nil
}

func openStorage(path string, opt *Options) (storage, error) {
	if path == InMemory {
		return newMemStorage(), nil
	}
	switch opt.Engine {
	case EngineBolt:
		bopt := &bbolt.Options{}
		*bopt = *bbolt.DefaultOptions
		bopt.Timeout = 10 * time.Second
		if opt.IsTesting {
			bopt.NoSync = true
			bopt.NoFreelistSync = true
			bopt.InitialMmapSize = 1024 * 1024 * 5
		} else {
			bopt.InitialMmapSize = 1024 * 1024 * 1024
			bopt.FreelistType = bbolt.FreelistMapType
		}
		if opt.MmapSize != 0 {
			bopt.InitialMmapSize = opt.MmapSize
		}
		bdb, err := bbolt.Open(path, 0666, bopt)
		if err != nil {
			return nil, err
		}
		return newBoltStorage(bdb), nil
	case EngineLevelDB:
		return openLevelDBStorage(path, false)
	default:
		return nil, fmt.Errorf("unknown engine %q", opt.Engine)
	}
}

func (db *DB) Options() Options {
	return db.opt
}

func (db *DB) Logger() *slog.Logger {
	return db.logger
}

func (db *DB) now() time.Time {
	return db.opt.Now()
}

// Size returns the store size observed by the most recent transaction.
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) Close() error {
	if err := db.st.Close(); err != nil {
		return fmt.Errorf("refstore: closing: %w", err)
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := -1
	for i, t := range db.txns {
		if t == tx {
			found = i
			break
		}
	}
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

// OpenTxnCount returns the number of transactions that have not been closed.
func (db *DB) OpenTxnCount() int {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	return len(db.txns)
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms\n", ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms:\n%s", ms, tx.stack)
		}
	}

	return buf.String()
}
