package refstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB has a single flat keyspace, so buckets are emulated with key
// prefixes: 'm' ++ name marks an existing bucket, 'b' ++ name ++ 0x00 ++ key
// holds its entries.
const (
	leveldbMarkerPrefix = 'm'
	leveldbDataPrefix   = 'b'
)

type leveldbStorage struct {
	ldb *leveldb.DB
}

func openLevelDBStorage(path string, readOnly bool) (storage, error) {
	opt := &ldb_opt.Options{
		ErrorIfMissing: readOnly,
		ReadOnly:       readOnly,
	}
	ldb, err := leveldb.OpenFile(path, opt)
	if err != nil {
		return nil, err
	}
	return &leveldbStorage{ldb: ldb}, nil
}

func (s *leveldbStorage) BeginTx(writable bool) (storageTx, error) {
	tx := &leveldbTx{db: s.ldb, writable: writable}
	if writable {
		// OpenTransaction holds the write lock until Commit or Discard.
		tr, err := s.ldb.OpenTransaction()
		if err != nil {
			return nil, err
		}
		tx.tr = tr
		tx.r = tr
	} else {
		snap, err := s.ldb.GetSnapshot()
		if err != nil {
			return nil, err
		}
		tx.snap = snap
		tx.r = snap
	}
	return tx, nil
}

func (s *leveldbStorage) MaxKeySize() int { return 0 }

func (s *leveldbStorage) Close() error {
	return s.ldb.Close()
}

// leveldbReader is the read surface shared by transactions and snapshots.
type leveldbReader interface {
	Get(key []byte, ro *ldb_opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *ldb_opt.ReadOptions) iterator.Iterator
}

type leveldbTx struct {
	db       *leveldb.DB
	writable bool
	tr       *leveldb.Transaction
	snap     *leveldb.Snapshot
	r        leveldbReader

	mu     sync.Mutex
	iters  map[iterator.Iterator]struct{}
	closed bool
}

func (tx *leveldbTx) Writable() bool { return tx.writable }

func (tx *leveldbTx) Bucket(name string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	ok, err := tx.hasKey(leveldbMarkerKey(name))
	if err != nil || !ok {
		return nil
	}
	return &leveldbBucket{tx: tx, prefix: leveldbBucketPrefix(name)}
}

func (tx *leveldbTx) CreateBucket(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	marker := leveldbMarkerKey(name)
	ok, err := tx.hasKey(marker)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := tx.tr.Put(marker, []byte{}, nil); err != nil {
			return nil, err
		}
	}
	return &leveldbBucket{tx: tx, prefix: leveldbBucketPrefix(name)}, nil
}

func (tx *leveldbTx) hasKey(key []byte) (bool, error) {
	_, err := tx.r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// newIterator opens an iterator that stays live until releaseIterator or
// the end of the transaction, whichever comes first.
func (tx *leveldbTx) newIterator(r *util.Range) iterator.Iterator {
	it := tx.r.NewIterator(r, nil)
	tx.mu.Lock()
	if tx.iters == nil {
		tx.iters = make(map[iterator.Iterator]struct{})
	}
	tx.iters[it] = struct{}{}
	tx.mu.Unlock()
	return it
}

func (tx *leveldbTx) releaseIterator(it iterator.Iterator) {
	tx.mu.Lock()
	delete(tx.iters, it)
	tx.mu.Unlock()
	it.Release()
}

func (tx *leveldbTx) releaseIterators() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for it := range tx.iters {
		it.Release()
	}
	tx.iters = nil
}

func (tx *leveldbTx) liveIterators() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.iters)
}

func (tx *leveldbTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.releaseIterators()
	tx.closed = true
	return tx.tr.Commit()
}

func (tx *leveldbTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.releaseIterators()
	tx.closed = true
	if tx.tr != nil {
		tx.tr.Discard()
	}
	if tx.snap != nil {
		tx.snap.Release()
	}
	return nil
}

func (tx *leveldbTx) Size() int64 {
	sizes, err := tx.db.SizeOf([]util.Range{{Start: []byte{0}, Limit: []byte{0xFF}}})
	if err != nil {
		return 0
	}
	return sizes.Sum()
}

func leveldbMarkerKey(name string) []byte {
	k := make([]byte, 0, 1+len(name))
	k = append(k, leveldbMarkerPrefix)
	return append(k, name...)
}

func leveldbBucketPrefix(name string) []byte {
	k := make([]byte, 0, 2+len(name))
	k = append(k, leveldbDataPrefix)
	k = append(k, name...)
	return append(k, 0)
}

type leveldbBucket struct {
	tx     *leveldbTx
	prefix []byte
}

func (b *leveldbBucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

func (b *leveldbBucket) Get(key []byte) []byte {
	v, err := b.tx.r.Get(b.key(key), nil)
	if err != nil {
		return nil
	}
	if v == nil {
		v = []byte{}
	}
	return v
}

func (b *leveldbBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	return b.tx.tr.Put(b.key(key), value, nil)
}

func (b *leveldbBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	return b.tx.tr.Delete(b.key(key), nil)
}

func (b *leveldbBucket) bounds() *util.Range {
	limit := cloneBytes(b.prefix)
	inc(limit)
	return &util.Range{Start: b.prefix, Limit: limit}
}

func (b *leveldbBucket) Cursor() storageCursor {
	return &leveldbCursor{b: b}
}

func (b *leveldbBucket) Stats() bucketStats {
	var s bucketStats
	it := b.tx.newIterator(b.bounds())
	for it.Next() {
		s.KeyN++
		s.LeafInuse += int64(len(it.Key()) - len(b.prefix) + len(it.Value()))
	}
	b.tx.releaseIterator(it)
	s.LeafAlloc = s.LeafInuse
	return s
}

func (b *leveldbBucket) KeyCount() int {
	n := 0
	it := b.tx.newIterator(b.bounds())
	for it.Next() {
		n++
	}
	b.tx.releaseIterator(it)
	return n
}

// leveldbCursor re-creates its iterator on every absolute positioning call
// so that it observes writes made through the transaction since the
// previous positioning.
type leveldbCursor struct {
	b  *leveldbBucket
	it iterator.Iterator
}

func (c *leveldbCursor) reset() iterator.Iterator {
	c.Close()
	c.it = c.b.tx.newIterator(c.b.bounds())
	return c.it
}

func (c *leveldbCursor) Close() {
	if c.it != nil {
		c.b.tx.releaseIterator(c.it)
		c.it = nil
	}
}

func (c *leveldbCursor) current(ok bool) ([]byte, []byte) {
	if !ok {
		return nil, nil
	}
	k := c.it.Key()[len(c.b.prefix):]
	v := c.it.Value()
	if v == nil {
		v = []byte{}
	}
	return k, v
}

func (c *leveldbCursor) First() ([]byte, []byte) {
	return c.current(c.reset().First())
}

func (c *leveldbCursor) Last() ([]byte, []byte) {
	return c.current(c.reset().Last())
}

func (c *leveldbCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.current(c.reset().Seek(c.b.key(seek)))
}

func (c *leveldbCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := cloneBytes(prefix)
	if !inc(limit) {
		return c.Last()
	}
	it := c.reset()
	if !it.Seek(c.b.key(limit)) {
		return c.current(it.Last())
	}
	return c.current(it.Prev())
}

func (c *leveldbCursor) Next() ([]byte, []byte) {
	if c.it == nil {
		return c.First()
	}
	return c.current(c.it.Next())
}

func (c *leveldbCursor) Prev() ([]byte, []byte) {
	if c.it == nil {
		return c.Last()
	}
	return c.current(c.it.Prev())
}
