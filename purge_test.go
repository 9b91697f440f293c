package refstore

import (
	"testing"
	"time"
)

func TestPurge(t *testing.T) {
	s := setupStore(t, Options{})
	part1 := RefStreamDefinition{PipelineUUID: testStream.PipelineUUID, PipelineVersion: "v1", StreamID: testStream.StreamID, PartIndex: 1}
	part1Map := MapDefinition{RefStreamDefinition: part1, MapName: testMap.MapName}
	s2Map := MapDefinition{RefStreamDefinition: testStream2, MapName: testMap.MapName}

	loadStream(t, s, testStream, Complete, func(l *Loader) {
		must(l.Put(testMap, "alice", StringValue("Paris")))
		must(l.Put(testMap, "bob", StringValue("Oslo")))
		must(l.PutRange(testMap2, Range{From: 1, To: 10}, StringValue("Rome")))
	})
	loadStream(t, s, part1, Complete, func(l *Loader) {
		must(l.Put(part1Map, "carol", StringValue("Lima")))
	})
	loadStream(t, s, testStream2, Complete, func(l *Loader) {
		must(l.Put(s2Map, "alice", StringValue("Paris")))
	})

	counts := must(s.Purge(testStream.StreamID, 0))
	deepEqual(t, counts, PurgeCounts{StreamsPurged: 1, MapsDeleted: 2, EntriesDeleted: 3, ValuesDeleted: 2, ValuesDeReferenced: 1})

	if ok := must(s.Exists(testStream)); ok {
		t.Fatalf("Exists(purged stream) = true")
	}
	if ok := must(s.MapExists(testMap)); ok {
		t.Fatalf("MapExists(purged map) = true")
	}
	deepEqual(t, getValue(t, s, testMap, "alice"), nil)
	deepEqual(t, getValue(t, s, part1Map, "carol"), Value(StringValue("Lima")))
	deepEqual(t, getValue(t, s, s2Map, "alice"), Value(StringValue("Paris")))

	// "Paris" is still referenced by the second stream, "Lima" by part 1.
	if n := s.ValueStoreEntryCount(); n != 2 {
		t.Fatalf("ValueStoreEntryCount = %d, wanted 2", n)
	}

	counts = must(s.Purge(999, 0))
	if !counts.IsZero() {
		t.Fatalf("Purge(unknown) = %+v, wanted nothing", counts)
	}
}

func TestPurge_batched(t *testing.T) {
	s := setupStore(t, Options{MaxPurgeDeletesBeforeCommit: 3})

	loadStream(t, s, testStream, Complete, func(l *Loader) {
		for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
			must(l.Put(testMap, k, StringValue(k)))
		}
	})

	counts := must(s.Purge(testStream.StreamID, testStream.PartIndex))
	deepEqual(t, counts, PurgeCounts{StreamsPurged: 1, MapsDeleted: 1, EntriesDeleted: 7, ValuesDeleted: 7})
	deepEqual(t, []int{s.KeyValueEntryCount(), s.ValueStoreEntryCount(), s.ProcessingInfoEntryCount()}, []int{0, 0, 0})
}

func TestPurgeOldData(t *testing.T) {
	clock := newFakeClock()
	s := setupStore(t, Options{Now: clock.Now, PurgeAge: 24 * time.Hour})

	loadStream(t, s, testStream, Complete, func(l *Loader) {
		must(l.Put(testMap, "alice", StringValue("Paris")))
	})
	clock.Advance(12 * time.Hour)
	loadStream(t, s, testStream2, Complete, func(l *Loader) {
		must(l.Put(MapDefinition{RefStreamDefinition: testStream2, MapName: "M"}, "alice", StringValue("Paris")))
	})

	clock.Advance(12 * time.Hour)
	counts := must(s.PurgeOldData(clock.Now(), 0))
	if counts.StreamsPurged != 1 || counts.ValuesDeReferenced != 1 || counts.ValuesDeleted != 0 {
		t.Fatalf("PurgeOldData = %+v, wanted the first stream purged", counts)
	}
	deepEqual(t, []bool{must(s.Exists(testStream)), must(s.Exists(testStream2))}, []bool{false, true})

	// A lookup keeps the stream alive.
	clock.Advance(11 * time.Hour)
	if _, _, err := s.GetProcessingInfo(testStream2); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	counts = must(s.PurgeOldData(clock.Now(), 0))
	if !counts.IsZero() {
		t.Fatalf("PurgeOldData after access = %+v, wanted nothing", counts)
	}

	counts = must(s.PurgeOldData(clock.Now(), time.Hour))
	if counts.StreamsPurged != 1 || counts.ValuesDeleted != 1 {
		t.Fatalf("PurgeOldData(1h) = %+v, wanted the second stream purged", counts)
	}
	if n := s.ValueStoreEntryCount(); n != 0 {
		t.Fatalf("ValueStoreEntryCount = %d, wanted 0", n)
	}
}

func TestPurgePartialLoads(t *testing.T) {
	s := setupStore(t, Options{})

	states := []ProcessingState{LoadInProgress, PurgeInProgress, Complete, Failed, Terminated, PurgeFailed, ReadyForPurge, Staged}
	defs := make([]RefStreamDefinition, len(states))
	for i, st := range states {
		defs[i] = RefStreamDefinition{PipelineUUID: "p", PipelineVersion: "1", StreamID: int64(i + 1)}
		loadStream(t, s, defs[i], Complete, func(l *Loader) {
			must(l.Put(MapDefinition{RefStreamDefinition: defs[i], MapName: "M"}, "k", StringValue(st.String())))
		})
		ensure(s.SetProcessingState(defs[i], st))
	}

	counts := must(s.PurgePartialLoads())
	if counts.StreamsPurged != 4 {
		t.Fatalf("PurgePartialLoads purged %d streams, wanted 4", counts.StreamsPurged)
	}

	var remaining []ProcessingState
	for _, info := range must(s.ProcessingInfos()) {
		remaining = append(remaining, info.State)
	}
	if len(remaining) != 4 {
		t.Fatalf("remaining states = %v, wanted 4", remaining)
	}
	for _, st := range remaining {
		if st.isPartial() {
			t.Errorf("** partial state %v survived", st)
		}
	}
	if n := len(must(s.ProcessingInfos(Failed, PurgeFailed))); n != 2 {
		t.Fatalf("ProcessingInfos(Failed, PurgeFailed) = %d, wanted 2", n)
	}
}

func TestOpen_purgesPartialLoads(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a file-backed store")
	}
	path := tempDBPath(t)

	s := must(Open(path, Options{IsTesting: true, MaxPutsBeforeCommit: 1}))
	l := s.NewLoader(testStream, time.Now())
	must(l.Initialise(false))
	must(l.Put(testMap, "a", StringValue("1")))
	must(l.Put(testMap, "b", StringValue("2")))
	l.Close()
	if n := s.KeyValueEntryCount(); n != 2 {
		t.Fatalf("KeyValueEntryCount = %d, wanted 2 committed entries", n)
	}
	ensure(s.Close())

	s = must(Open(path, Options{IsTesting: true}))
	defer s.Close()
	deepEqual(t, []int{s.KeyValueEntryCount(), s.ValueStoreEntryCount(), s.ProcessingInfoEntryCount()}, []int{0, 0, 0})
}
