package refstore

import (
	"fmt"
	"testing"
)

func TestKeyValueStore_put(t *testing.T) {
	s := setupStore(t, Options{})
	kv := s.KeyValueStore()

	key := KeyValueStoreKey{UID: 1, Key: "alice"}
	vsk1 := ValueStoreKey{Hash: 0x1111, UniqueID: 0}
	vsk2 := ValueStoreKey{Hash: 0x2222, UniqueID: 3}

	s.DB().Write(func(tx *Tx) {
		if o := must(kv.Put(tx, key, vsk1, false)); o != newEntryOutcome() {
			t.Errorf("** first Put = %v, wanted put", o)
		}
		if o := must(kv.Put(tx, key, vsk2, false)); o != failedDuplicateOutcome() {
			t.Errorf("** Put without overwrite = %v, wanted duplicate", o)
		}
		if got, _, _ := kv.Get(tx, key); got != vsk1 {
			t.Errorf("** Get after failed duplicate = %v, wanted %v", got, vsk1)
		}
		if o := must(kv.Put(tx, key, vsk2, true)); o != replacedEntryOutcome() {
			t.Errorf("** Put with overwrite = %v, wanted replaced", o)
		}
	})

	s.DB().Read(func(tx *Tx) {
		got, found, err := kv.Get(tx, key)
		if err != nil || !found || got != vsk2 {
			t.Fatalf("Get = (%v, %v, %v), wanted (%v, true, nil)", got, found, err, vsk2)
		}
		if _, found, _ := kv.Get(tx, KeyValueStoreKey{UID: 2, Key: "alice"}); found {
			t.Fatalf("Get in another map found an entry")
		}
		if _, found, _ := kv.Get(tx, KeyValueStoreKey{UID: 1, Key: "alic"}); found {
			t.Fatalf("Get of a key prefix found an entry")
		}
	})

	s.DB().Write(func(tx *Tx) {
		if !must(kv.Delete(tx, key)) {
			t.Errorf("** Delete = false, wanted true")
		}
		if must(kv.Delete(tx, key)) {
			t.Errorf("** second Delete = true, wanted false")
		}
	})
}

func TestKeyValueStore_maps(t *testing.T) {
	s := setupStore(t, Options{})
	kv := s.KeyValueStore()
	vsk := ValueStoreKey{Hash: 0xabc}

	s.DB().Read(func(tx *Tx) {
		if _, found := kv.GetMaxUID(tx); found {
			t.Fatalf("GetMaxUID on empty store found a UID")
		}
	})

	s.DB().Write(func(tx *Tx) {
		for uid := UID(1); uid <= 3; uid++ {
			for i := 0; i < 5; i++ {
				must(kv.Put(tx, KeyValueStoreKey{UID: uid, Key: fmt.Sprintf("key%d", i)}, vsk, false))
			}
		}
	})

	s.DB().Read(func(tx *Tx) {
		if uid, found := kv.GetMaxUID(tx); !found || uid != 3 {
			t.Fatalf("GetMaxUID = (%v, %v), wanted (3, true)", uid, found)
		}
		if n := kv.EntryCountForUID(tx, 2); n != 5 {
			t.Fatalf("EntryCountForUID(2) = %d, wanted 5", n)
		}
		if n := kv.EntryCount(tx); n != 15 {
			t.Fatalf("EntryCount = %d, wanted 15", n)
		}
	})

	btx := s.DB().NewBatchingWriteTx(2)
	var seen []string
	n, err := kv.DeleteMapEntries(btx, 2, func(tx *Tx, key KeyValueStoreKey, v ValueStoreKey) error {
		if key.UID != 2 {
			t.Errorf("** DeleteMapEntries visited %v", key)
		}
		seen = append(seen, key.Key)
		return nil
	})
	ensure(err)
	ensure(btx.Commit())
	btx.Close()

	if n != 5 {
		t.Fatalf("DeleteMapEntries = %d, wanted 5", n)
	}
	deepEqual(t, seen, []string{"key0", "key1", "key2", "key3", "key4"})
	if c := btx.Commits(); c < 2 {
		t.Errorf("** Commits = %d, wanted the deletion split into batches", c)
	}

	s.DB().Read(func(tx *Tx) {
		deepEqual(t, []int{kv.EntryCountForUID(tx, 1), kv.EntryCountForUID(tx, 2), kv.EntryCountForUID(tx, 3)}, []int{5, 0, 5})

		var keys []string
		ensure(kv.ForEachEntry(tx, RawPrefix(UID(3).Bytes()), func(key KeyValueStoreKey, v ValueStoreKey) error {
			keys = append(keys, key.Key)
			if v != vsk {
				t.Errorf("** %v = %v, wanted %v", key, v, vsk)
			}
			return nil
		}))
		deepEqual(t, keys, []string{"key0", "key1", "key2", "key3", "key4"})
	})
}
