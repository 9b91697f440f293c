package refstore

import (
	"errors"
	"fmt"
	"unsafe"

	"go.etcd.io/bbolt"
)

// boltStorage keeps every table in a top-level Bolt bucket named after it.
type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("bolt: begin (writable=%v): %w", writable, err)
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) MaxKeySize() int { return bbolt.MaxKeySize }

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Bucket(name string) storageBucket {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil
	}
	return &boltBucket{name: name, b: b}
}

func (tx *boltStorageTx) CreateBucket(name string) (storageBucket, error) {
	// Bolt keeps the name slice for the lifetime of the bucket, so it must
	// not alias the string.
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("bolt: create %s: %w", name, err)
	}
	return &boltBucket{name: name, b: b}, nil
}

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	if err := tx.btx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		return err
	}
	return nil
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	name string
	b    *bbolt.Bucket
}

func (b *boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b *boltBucket) Put(key, value []byte) error {
	if err := b.b.Put(key, value); err != nil {
		return fmt.Errorf("bolt: put into %s (key %d bytes, value %d bytes): %w", b.name, len(key), len(value), err)
	}
	return nil
}

func (b *boltBucket) Delete(key []byte) error {
	if err := b.b.Delete(key); err != nil {
		return fmt.Errorf("bolt: delete from %s: %w", b.name, err)
	}
	return nil
}

func (b *boltBucket) Cursor() storageCursor { return &boltCursor{c: b.b.Cursor()} }

func (b *boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

func (b *boltBucket) KeyCount() int { return b.b.Stats().KeyN }

// boltCursor wraps a Bolt cursor. Bolt cursors hold no resources beyond the
// transaction, so Close only detaches it.
type boltCursor struct {
	c *bbolt.Cursor
}

func (c *boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c *boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c *boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c *boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := cloneBytes(prefix)
	if len(limit) == 0 || !inc(limit) {
		// Empty or all-0xFF prefix: nothing sorts after its range.
		return c.c.Last()
	}
	if k, _ := c.c.Seek(limit); k == nil {
		return c.c.Last()
	}
	return c.c.Prev()
}

func (c *boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c *boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c *boltCursor) Close() { c.c = nil }

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
