package refstore

import (
	"errors"
	"strings"
	"testing"
)

func TestTx_BeginUpdateRollsBackOnClose(t *testing.T) {
	db := setupDB(t, Options{})

	key := x("aa")
	tx := db.BeginUpdate()
	ensure(tx.put(tableKeyValueStore, key, []byte{1}))
	tx.Close() // rollback

	db.Read(func(tx *Tx) {
		if got := tx.bucket(tableKeyValueStore).Get(key); got != nil {
			t.Fatalf("Get after rollback = %x, wanted nil", got)
		}
	})
}

func TestDBTx_RollsBackOnError(t *testing.T) {
	db := setupDB(t, Options{})

	key := x("01")
	err := db.Tx(true, func(tx *Tx) error {
		ensure(tx.put(tableKeyValueStore, key, []byte{1}))
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("db.Tx err = nil, wanted error")
	}
	db.Read(func(tx *Tx) {
		if got := tx.bucket(tableKeyValueStore).Get(key); got != nil {
			t.Fatalf("Get after failed Tx = %x, wanted nil", got)
		}
	})
}

func TestDBTx_PanicBecomesError(t *testing.T) {
	db := setupDB(t, Options{})

	err := db.Tx(true, func(tx *Tx) error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("db.Tx err = nil, wanted error")
	}
	if !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("db.Tx err = %q, wanted it to include %q", err.Error(), "panic: boom")
	}

	err = db.Tx(false, func(tx *Tx) error {
		panic(ErrNotFound)
	})
	isErr(t, err, ErrNotFound)
}

func TestTx_OnCommit(t *testing.T) {
	db := setupDB(t, Options{})

	var calls int
	tx := db.BeginUpdate()
	tx.OnCommit(func() { calls++ })
	tx.Close()
	if calls != 0 {
		t.Fatalf("OnCommit calls after rollback = %d, wanted 0", calls)
	}

	tx = db.BeginUpdate()
	tx.OnCommit(func() { calls++ })
	ensure(tx.Commit())
	if calls != 1 {
		t.Fatalf("OnCommit calls after commit = %d, wanted 1", calls)
	}
	isErr(t, tx.Commit(), ErrTxClosed)
}

func TestTx_releasesValueBuffers(t *testing.T) {
	db := setupDB(t, Options{})

	tx := db.BeginUpdate()
	for i := 0; i < 10; i++ {
		vb := db.bufs.acquire(8)
		vb.AppendFixedUint64(uint64(i))
		ensure(tx.putBuf(tableKeyValueStore, []byte{byte(i)}, vb))
	}
	if n := db.bufs.Outstanding(); n != 10 {
		t.Fatalf("Outstanding = %d, wanted 10", n)
	}
	ensure(tx.Commit())
	if n := db.bufs.Outstanding(); n != 0 {
		t.Fatalf("Outstanding after commit = %d, wanted 0", n)
	}

	db.Read(func(tx *Tx) {
		got := tx.bucket(tableKeyValueStore).Get([]byte{7})
		deepEqual(t, hexstr(got), "0000000000000007")
	})
}

func TestTx_readOnlyPanics(t *testing.T) {
	db := setupDB(t, Options{})
	err := db.Tx(false, func(tx *Tx) error {
		return tx.put(tableKeyValueStore, x("01"), x("01"))
	})
	if err == nil {
		t.Fatalf("put in read-only tx err = nil, wanted error")
	}
}

func TestTx_storeFull(t *testing.T) {
	db := setupDB(t, Options{MaxSize: 1})

	err := db.Tx(true, func(tx *Tx) error {
		return tx.put(tableKeyValueStore, x("01"), x("01"))
	})
	isErr(t, err, ErrStoreFull)

	db.Read(func(tx *Tx) {
		if got := tx.bucket(tableKeyValueStore).Get(x("01")); got != nil {
			t.Fatalf("Get after ErrStoreFull = %x, wanted nil", got)
		}
	})

	// deletions never count towards the limit
	err = db.Tx(true, func(tx *Tx) error {
		return tx.delete(tableKeyValueStore, x("01"))
	})
	if err != nil {
		t.Fatalf("delete with full store = %v, wanted nil", err)
	}
}
