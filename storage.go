package refstore

import "errors"

// ErrBucketNotFound is returned when a table has not been created in the
// environment.
var ErrBucketNotFound = errors.New("bucket not found")

// storage represents a key-value storage backend (Bolt, LevelDB, in-memory).
//
// Backends must provide one writable transaction at a time and any number
// of concurrent read-only transactions that see a consistent snapshot.
type storage interface {
	// BeginTx starts a new transaction. A writable BeginTx blocks while
	// another writable transaction is open.
	BeginTx(writable bool) (storageTx, error)
	// MaxKeySize returns the longest key the backend accepts, or 0 if keys
	// are unbounded.
	MaxKeySize() int
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a bucket, or nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes as of the transaction start
	// (0 if unknown).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found. The returned
	// slice is only valid until the end of the transaction and must not be
	// modified.
	Get(key []byte) []byte

	// Put stores a key-value pair. Bolt keeps a reference to value until
	// the transaction ends, so callers must not reuse the value's memory
	// within the same transaction.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() storageCursor

	// Stats returns storage-specific bucket statistics.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() bucketStats

	// KeyCount returns the number of keys in the bucket.
	KeyCount() int
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket. Returned slices are only
// valid until the cursor moves. After mutating the bucket, a cursor must be
// repositioned with First, Last, Seek or SeekLast before Next/Prev.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key with the given prefix or, if there is
	// none, to the closest key before the prefix.
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Close releases the resources held by the cursor. It may be called more
	// than once; a closed cursor must not be used.
	Close()
}
