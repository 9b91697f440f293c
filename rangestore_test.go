package refstore

import (
	"testing"
)

func TestIsKeyInRange(t *testing.T) {
	key := RangeStoreKey{UID: 5, Range: Range{From: 10, To: 20}}.Bytes()
	tests := []struct {
		uid   UID
		point int64
		exp   CompareResult
	}{
		{5, 9, BelowRange},
		{5, 10, InRange},
		{5, 19, InRange},
		{5, 20, AboveRange},
		{5, 1000, AboveRange},
		{4, 15, MapUIDMismatch},
	}
	for _, tt := range tests {
		if a := IsKeyInRange(key, tt.uid, tt.point); a != tt.exp {
			t.Errorf("** IsKeyInRange(uid %v, %d) = %v, wanted %v", tt.uid, tt.point, a, tt.exp)
		}
	}
	if a := IsKeyInRange([]byte{1, 2}, 5, 15); a != MapUIDMismatch {
		t.Errorf("** IsKeyInRange(short key) = %v, wanted %v", a, MapUIDMismatch)
	}
}

func TestRangeStore_get(t *testing.T) {
	s := setupStore(t, Options{})
	rs := s.RangeStore()

	vsk := func(n uint64) ValueStoreKey { return ValueStoreKey{Hash: n} }
	s.DB().Write(func(tx *Tx) {
		must(rs.Put(tx, RangeStoreKey{UID: 1, Range: Range{From: 100, To: 200}}, vsk(1), false))
		must(rs.Put(tx, RangeStoreKey{UID: 1, Range: Range{From: 150, To: 160}}, vsk(2), false))
		must(rs.Put(tx, RangeStoreKey{UID: 1, Range: Range{From: 300, To: 400}}, vsk(3), false))
		must(rs.Put(tx, RangeStoreKey{UID: 2, Range: Range{From: 0, To: 1000}}, vsk(4), false))
		must(rs.Put(tx, RangeStoreKey{UID: 3, Range: Range{From: 50, To: 60}}, vsk(5), false))
	})

	tests := []struct {
		uid   UID
		point int64
		exp   uint64 // 0 means not found
	}{
		{1, 99, 0},
		{1, 100, 1},
		{1, 149, 1},
		{1, 150, 2},
		{1, 159, 2},
		{1, 160, 1},
		{1, 199, 1},
		{1, 200, 0},
		{1, 250, 0},
		{1, 300, 3},
		{1, 399, 3},
		{1, 400, 0},
		{1, -1, 0},
		{2, 0, 4},
		{2, 999, 4},
		{2, 1000, 0},
		{3, 49, 0},
		{3, 55, 5},
		{3, 70, 0},
		{4, 55, 0},
		{0, 55, 0},
	}
	s.DB().Read(func(tx *Tx) {
		for _, tt := range tests {
			a, found, err := rs.Get(tx, tt.uid, tt.point)
			ensure(err)
			if tt.exp == 0 {
				if found {
					t.Errorf("** Get(%v, %d) = %v, wanted not found", tt.uid, tt.point, a)
				}
			} else if !found || a.Hash != tt.exp {
				t.Errorf("** Get(%v, %d) = (%v, %v), wanted value %d", tt.uid, tt.point, a, found, tt.exp)
			}
		}
	})
}

func TestRangeStore_sameFrom(t *testing.T) {
	s := setupStore(t, Options{})
	rs := s.RangeStore()

	s.DB().Write(func(tx *Tx) {
		must(rs.Put(tx, RangeStoreKey{UID: 1, Range: Range{From: 10, To: 20}}, ValueStoreKey{Hash: 1}, false))
		must(rs.Put(tx, RangeStoreKey{UID: 1, Range: Range{From: 10, To: 30}}, ValueStoreKey{Hash: 2}, false))
	})
	s.DB().Read(func(tx *Tx) {
		for point, exp := range map[int64]uint64{10: 2, 19: 2, 25: 2} {
			a, found, _ := rs.Get(tx, 1, point)
			if !found || a.Hash != exp {
				t.Errorf("** Get(%d) = (%v, %v), wanted value %d", point, a, found, exp)
			}
		}
	})
}

func TestRangeStore_put(t *testing.T) {
	s := setupStore(t, Options{})
	rs := s.RangeStore()
	key := RangeStoreKey{UID: 7, Range: Range{From: 1, To: 5}}

	s.DB().Write(func(tx *Tx) {
		if o := must(rs.Put(tx, key, ValueStoreKey{Hash: 1}, false)); o != newEntryOutcome() {
			t.Errorf("** Put = %v, wanted put", o)
		}
		if o := must(rs.Put(tx, key, ValueStoreKey{Hash: 2}, false)); o != failedDuplicateOutcome() {
			t.Errorf("** Put without overwrite = %v, wanted duplicate", o)
		}
		if o := must(rs.Put(tx, key, ValueStoreKey{Hash: 3}, true)); o != replacedEntryOutcome() {
			t.Errorf("** Put with overwrite = %v, wanted replaced", o)
		}
		_, err := rs.Put(tx, RangeStoreKey{UID: 7, Range: Range{From: 5, To: 5}}, ValueStoreKey{}, false)
		isErr(t, err, ErrInvalidRange)
		_, err = rs.Put(tx, RangeStoreKey{UID: 7, Range: Range{From: -5, To: 5}}, ValueStoreKey{}, false)
		isErr(t, err, ErrInvalidRange)

		if v, found, _ := rs.GetRaw(tx, key); !found || v.Hash != 3 {
			t.Errorf("** GetRaw = (%v, %v), wanted value 3", v, found)
		}
		if _, found, _ := rs.GetRaw(tx, RangeStoreKey{UID: 7, Range: Range{From: 1, To: 4}}); found {
			t.Errorf("** GetRaw of another range found an entry")
		}
	})

	s.DB().Read(func(tx *Tx) {
		if !rs.ContainsMapDefinition(tx, 7) {
			t.Errorf("** ContainsMapDefinition(7) = false")
		}
		if rs.ContainsMapDefinition(tx, 6) || rs.ContainsMapDefinition(tx, 8) {
			t.Errorf("** ContainsMapDefinition of a missing map = true")
		}
		if uid, found := rs.GetMaxUID(tx); !found || uid != 7 {
			t.Errorf("** GetMaxUID = (%v, %v), wanted (7, true)", uid, found)
		}
	})

	s.DB().Write(func(tx *Tx) {
		if !must(rs.Delete(tx, key)) {
			t.Errorf("** Delete = false")
		}
		if must(rs.Delete(tx, key)) {
			t.Errorf("** second Delete = true")
		}
	})
}

func TestRangeStore_deleteMapEntries(t *testing.T) {
	s := setupStore(t, Options{})
	rs := s.RangeStore()

	s.DB().Write(func(tx *Tx) {
		for uid := UID(1); uid <= 3; uid++ {
			for i := int64(0); i < 4; i++ {
				must(rs.Put(tx, RangeStoreKey{UID: uid, Range: Range{From: i * 10, To: i*10 + 10}}, ValueStoreKey{Hash: uint64(uid)}, false))
			}
		}
	})

	btx := s.DB().NewBatchingWriteTx(3)
	var froms []int64
	n := must(rs.DeleteMapEntries(btx, 1, func(tx *Tx, key RangeStoreKey, vsk ValueStoreKey) error {
		froms = append(froms, key.Range.From)
		return nil
	}))
	ensure(btx.Commit())
	btx.Close()

	if n != 4 {
		t.Fatalf("DeleteMapEntries = %d, wanted 4", n)
	}
	deepEqual(t, froms, []int64{0, 10, 20, 30})

	s.DB().Read(func(tx *Tx) {
		if rs.ContainsMapDefinition(tx, 1) {
			t.Errorf("** map 1 still has entries")
		}
		deepEqual(t, []int{rs.EntryCountForUID(tx, 2), rs.EntryCountForUID(tx, 3), rs.EntryCount(tx)}, []int{4, 4, 8})
	})
}
