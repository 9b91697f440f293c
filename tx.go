package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

type Tx struct {
	db  *DB
	stx storageTx

	closed    bool
	committed bool
	written   bool
	addedSize int64

	startTime time.Time
	stack     []byte

	valueBufs []*pooledBuf
	onCommit  []func()
}

func (db *DB) newTx(stx storageTx) *Tx {
	tx := &Tx{
		db:        db,
		stx:       stx,
		startTime: time.Now(),
	}
	if stx.Writable() {
		db.WriterCount.Add(1)
		db.WriteCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
		db.ReadCount.Add(1)
	}
	db.lastSize.Store(stx.Size())
	if trackTxns {
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	return tx
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.stx.Writable()
}

// Begin starts a transaction that the caller must Close.
func (db *DB) Begin(writable bool) (*Tx, error) {
	stx, err := db.st.BeginTx(writable)
	if err != nil {
		return nil, err
	}
	return db.newTx(stx), nil
}

func (db *DB) BeginRead() *Tx {
	return must(db.Begin(false))
}

func (db *DB) BeginUpdate() *Tx {
	return must(db.Begin(true))
}

func (db *DB) Read(f func(tx *Tx)) {
	tx := db.BeginRead()
	defer tx.Close()
	f(tx)
}

func (db *DB) ReadErr(f func(tx *Tx) error) error {
	tx := db.BeginRead()
	defer tx.Close()
	return f(tx)
}

func (db *DB) Write(f func(tx *Tx)) {
	tx := db.BeginUpdate()
	defer tx.Close()
	f(tx)
	err := tx.Commit()
	if err != nil {
		panic(fmt.Errorf("commit: %w", err))
	}
}

// Tx runs f inside a transaction. A writable transaction is committed if f
// returns nil and rolled back otherwise. Panics inside f are converted into
// errors and roll the transaction back.
func (db *DB) Tx(writable bool, f func(tx *Tx) error) error {
	tx, err := db.Begin(writable)
	if err != nil {
		return err
	}
	defer tx.Close()

	err = safelyCall(f, tx)
	if err != nil {
		return err
	}
	if writable {
		return tx.Commit()
	}
	return nil
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p panicked) Unwrap() error {
	if err, ok := p.reason.(error); ok {
		return err
	}
	return nil
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) bucket(name string) storageBucket {
	if tx.closed {
		panic(ErrTxClosed)
	}
	b := tx.stx.Bucket(name)
	if b == nil {
		panic(fmt.Errorf("%s: %w", name, ErrBucketNotFound))
	}
	return b
}

func (tx *Tx) ensureWritable() {
	if !tx.stx.Writable() {
		panic("read-only transaction")
	}
}

// put stores value under key. Bolt holds on to value until the transaction
// ends, so value must not be reused; use putBuf for pooled buffers.
func (tx *Tx) put(table string, key, value []byte) error {
	tx.ensureWritable()
	if tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "put", slog.String("table", table), hexAttr("key", key), hexAttr("value", value))
	}
	err := tx.bucket(table).Put(key, value)
	if err != nil {
		return tableErrf(table, key, err, "put")
	}
	tx.written = true
	tx.addedSize += int64(len(key) + len(value))
	return nil
}

// putBuf is put for a value held in a pooled buffer. The buffer is released
// when the transaction closes.
func (tx *Tx) putBuf(table string, key []byte, value *pooledBuf) error {
	tx.keepValueBuf(value)
	return tx.put(table, key, value.Bytes())
}

func (tx *Tx) delete(table string, key []byte) error {
	tx.ensureWritable()
	if tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "delete", slog.String("table", table), hexAttr("key", key))
	}
	err := tx.bucket(table).Delete(key)
	if err != nil {
		return tableErrf(table, key, err, "delete")
	}
	tx.written = true
	return nil
}

func (tx *Tx) keepValueBuf(b *pooledBuf) {
	tx.valueBufs = append(tx.valueBufs, b)
}

// OnCommit registers f to run after the transaction commits successfully.
func (tx *Tx) OnCommit(f func()) {
	tx.onCommit = append(tx.onCommit, f)
}

func (tx *Tx) Commit() error {
	if tx.closed || tx.committed {
		return ErrTxClosed
	}
	if max := tx.db.opt.MaxSize; max > 0 && tx.addedSize > 0 {
		if size := tx.stx.Size(); size+tx.addedSize > max {
			tx.Close()
			return fmt.Errorf("%w: %d bytes + %d pending > %d", ErrStoreFull, size, tx.addedSize, max)
		}
	}
	err := tx.stx.Commit()
	if err != nil {
		tx.Close()
		return err
	}
	tx.committed = true
	tx.db.metrics.commits.Inc()
	for _, f := range tx.onCommit {
		f()
	}
	tx.onCommit = nil
	tx.Close()
	return nil
}

// Close rolls back the transaction unless it has been committed, and
// releases buffers kept for it. Safe to call multiple times.
func (tx *Tx) Close() {
	if tx.closed {
		return
	}
	tx.closed = true
	if !tx.committed {
		err := tx.stx.Rollback()
		if err != nil && !errors.Is(err, ErrTxClosed) {
			panic(err) // not expected to happen unless the engine API changes
		}
	}
	if tx.stx.Writable() {
		tx.db.WriterCount.Add(-1)
	} else {
		tx.db.ReaderCount.Add(-1)
	}
	tx.release()
	if trackTxns {
		tx.db.removeTx(tx)
	}
}

func (tx *Tx) release() {
	for i, b := range tx.valueBufs {
		b.release()
		tx.valueBufs[i] = nil
	}
	tx.valueBufs = nil
	tx.onCommit = nil
}
