package refstore

import (
	"testing"
)

func TestBatchingWriteTx(t *testing.T) {
	db := setupDB(t, Options{})

	btx := db.NewBatchingWriteTx(3)
	defer btx.Close()

	var commitCalls int
	btx.OnEachCommit(func() { commitCalls++ })

	for i := 0; i < 7; i++ {
		tx := must(btx.Tx())
		ensure(tx.put(tableKeyValueStore, []byte{byte(i)}, []byte{byte(i)}))
		committed := must(btx.CommitIfRequired())
		if wanted := (i+1)%3 == 0; committed != wanted {
			t.Fatalf("CommitIfRequired #%d = %v, wanted %v", i, committed, wanted)
		}
	}
	if n := btx.Commits(); n != 2 {
		t.Fatalf("Commits = %d, wanted 2", n)
	}
	if n := btx.BatchSize(); n != 1 {
		t.Fatalf("BatchSize = %d, wanted 1", n)
	}

	// the 7th put is still pending
	db.Read(func(tx *Tx) {
		if n := tx.bucket(tableKeyValueStore).KeyCount(); n != 6 {
			t.Fatalf("committed KeyCount = %d, wanted 6", n)
		}
	})

	ensure(btx.Commit())
	ensure(btx.Commit())
	if n := btx.Commits(); n != 3 {
		t.Fatalf("Commits = %d, wanted 3", n)
	}
	if commitCalls != 3 {
		t.Fatalf("OnEachCommit calls = %d, wanted 3", commitCalls)
	}
	db.Read(func(tx *Tx) {
		if n := tx.bucket(tableKeyValueStore).KeyCount(); n != 7 {
			t.Fatalf("KeyCount = %d, wanted 7", n)
		}
	})
}

func TestBatchingWriteTx_abort(t *testing.T) {
	db := setupDB(t, Options{})

	btx := db.NewBatchingWriteTx(0)
	for i := 0; i < 5; i++ {
		tx := must(btx.Tx())
		ensure(tx.put(tableKeyValueStore, []byte{byte(i)}, []byte{}))
		if must(btx.CommitIfRequired()) {
			t.Fatalf("CommitIfRequired committed with batching disabled")
		}
	}
	btx.Close()

	db.Read(func(tx *Tx) {
		if n := tx.bucket(tableKeyValueStore).KeyCount(); n != 0 {
			t.Fatalf("KeyCount after abort = %d, wanted 0", n)
		}
	})
	if n := db.OpenTxnCount(); n != 0 {
		t.Fatalf("OpenTxnCount = %d, wanted 0", n)
	}
}
