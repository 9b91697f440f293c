package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PurgeCounts summarizes a purge run.
type PurgeCounts struct {
	StreamsPurged      int
	StreamsFailed      int
	MapsDeleted        int
	EntriesDeleted     int
	ValuesDeleted      int
	ValuesDeReferenced int
}

func (c *PurgeCounts) add(o PurgeCounts) {
	c.StreamsPurged += o.StreamsPurged
	c.StreamsFailed += o.StreamsFailed
	c.MapsDeleted += o.MapsDeleted
	c.EntriesDeleted += o.EntriesDeleted
	c.ValuesDeleted += o.ValuesDeleted
	c.ValuesDeReferenced += o.ValuesDeReferenced
}

func (c PurgeCounts) IsZero() bool {
	return c == PurgeCounts{}
}

func (c PurgeCounts) logAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("streams_purged", c.StreamsPurged),
		slog.Int("streams_failed", c.StreamsFailed),
		slog.Int("maps_deleted", c.MapsDeleted),
		slog.Int("entries_deleted", c.EntriesDeleted),
		slog.Int("values_deleted", c.ValuesDeleted),
		slog.Int("values_dereferenced", c.ValuesDeReferenced),
	}
}

// Purge removes every pipeline's load of the given stream part, whatever
// its state.
func (s *Store) Purge(streamID, partIndex int64) (PurgeCounts, error) {
	s.purgeLock.Lock()
	defer s.purgeLock.Unlock()

	counts, err := s.purgeMatching("purge stream", func(def RefStreamDefinition, _ ProcessingInfo) bool {
		return def.StreamID == streamID && def.PartIndex == partIndex
	})
	if err == nil && counts.StreamsFailed > 0 {
		err = fmt.Errorf("unable to purge %d stream(s)", counts.StreamsFailed)
	}
	return counts, err
}

// PurgeOldData removes every stream not accessed since now-purgeAge, and
// then any partial loads or purges. A zero purgeAge means Options.PurgeAge.
func (s *Store) PurgeOldData(now time.Time, purgeAge time.Duration) (PurgeCounts, error) {
	if purgeAge == 0 {
		purgeAge = s.db.opt.PurgeAge
	}
	cutoff := now.Add(-purgeAge)

	s.purgeLock.Lock()
	counts, err := s.purgeMatching("purge old data", func(_ RefStreamDefinition, info ProcessingInfo) bool {
		return info.LastAccessedTime.UnixMilli() <= cutoff.UnixMilli()
	})
	s.purgeLock.Unlock()
	if err != nil {
		return counts, err
	}

	partial, err := s.PurgePartialLoads()
	counts.add(partial)
	if err == nil && counts.StreamsFailed > 0 {
		err = fmt.Errorf("unable to purge %d stream(s)", counts.StreamsFailed)
	}
	return counts, err
}

// PurgePartialLoads removes streams left in a state of an unfinished load
// or purge.
func (s *Store) PurgePartialLoads() (PurgeCounts, error) {
	s.purgeLock.Lock()
	defer s.purgeLock.Unlock()
	return s.purgeMatching("purge partial loads", func(_ RefStreamDefinition, info ProcessingInfo) bool {
		return info.State.isPartial()
	})
}

// purgeMatching purges, one at a time, every stream matching pred. Each
// candidate is found with a fresh read transaction and re-checked under its
// stream lock inside the purge's write transaction.
func (s *Store) purgeMatching(op string, pred func(def RefStreamDefinition, info ProcessingInfo) bool) (PurgeCounts, error) {
	start := time.Now()
	var counts PurgeCounts
	var after []byte
	for {
		var def RefStreamDefinition
		var found bool
		err := s.db.ReadErr(func(tx *Tx) (err error) {
			def, _, found, err = s.procInfo.FindFirstMatching(tx, after, pred)
			return err
		})
		if err != nil {
			return counts, err
		}
		if !found {
			break
		}
		after = def.Bytes()
		counts.add(s.purgeStreamIfEligible(def, pred))
	}

	attrs := append(counts.logAttrs(), slog.Duration("elapsed", time.Since(start)))
	if counts.IsZero() {
		s.logger().LogAttrs(context.Background(), slog.LevelDebug, op+": nothing to purge")
	} else {
		s.logger().LogAttrs(context.Background(), slog.LevelInfo, op+": done", attrs...)
	}
	return counts, nil
}

func (s *Store) purgeStreamIfEligible(def RefStreamDefinition, pred func(def RefStreamDefinition, info ProcessingInfo) bool) PurgeCounts {
	unlock := s.lockStream(def)
	defer unlock()

	btx := s.db.NewBatchingWriteTx(s.db.opt.MaxPurgeDeletesBeforeCommit)
	defer btx.Close()

	counts, err := s.purgeStream(btx, def, pred)
	if err == nil {
		return counts
	}

	btx.Abort()
	s.logger().LogAttrs(context.Background(), slog.LevelError, "failed to purge stream", slog.String("stream", def.String()), slog.Any("err", err))
	counts.StreamsFailed++

	err = s.db.Tx(true, func(tx *Tx) error {
		_, err := s.procInfo.UpdateProcessingState(tx, def, PurgeFailed, false)
		return err
	})
	if err != nil {
		s.logger().LogAttrs(context.Background(), slog.LevelError, "failed to mark stream purge as failed", slog.String("stream", def.String()), slog.Any("err", err))
	}
	return counts
}

var errProcessingInfoGone = errors.New("processing info entry disappeared during purge")

func (s *Store) purgeStream(btx *BatchingWriteTx, def RefStreamDefinition, pred func(def RefStreamDefinition, info ProcessingInfo) bool) (PurgeCounts, error) {
	var counts PurgeCounts
	tx, err := btx.Tx()
	if err != nil {
		return counts, err
	}

	// Re-check under the write lock: a load may have changed the stream
	// since it was picked.
	info, found, err := s.procInfo.Get(tx, def)
	if err != nil {
		return counts, err
	} else if !found {
		s.logger().LogAttrs(context.Background(), slog.LevelDebug, "stream already purged", slog.String("stream", def.String()))
		return counts, nil
	} else if !pred(def, info) {
		return counts, nil
	}

	s.logger().LogAttrs(context.Background(), slog.LevelInfo, "purging stream",
		slog.String("stream", def.String()),
		slog.String("state", info.State.String()),
		slog.Time("last_accessed", info.LastAccessedTime),
		slog.Time("created", info.CreateTime),
		slog.Time("effective", info.EffectiveTime))

	// Committed batches must show the stream as partially purged.
	if _, err := s.procInfo.UpdateProcessingState(tx, def, PurgeInProgress, false); err != nil {
		return counts, err
	}

	deref := func(tx *Tx, vsk ValueStoreKey) error {
		deleted, err := s.values.DeReferenceOrDeleteValue(tx, vsk)
		if err != nil {
			return err
		}
		if deleted {
			counts.ValuesDeleted++
		} else {
			counts.ValuesDeReferenced++
		}
		return nil
	}

	for {
		tx, err := btx.Tx()
		if err != nil {
			return counts, err
		}
		uid, found, err := s.mapUIDs.NextMapUID(tx, def)
		if err != nil {
			return counts, err
		} else if !found {
			break
		}

		n, err := s.kv.DeleteMapEntries(btx, uid, func(tx *Tx, _ KeyValueStoreKey, vsk ValueStoreKey) error {
			return deref(tx, vsk)
		})
		counts.EntriesDeleted += n
		if err != nil {
			return counts, err
		}
		n, err = s.ranges.DeleteMapEntries(btx, uid, func(tx *Tx, _ RangeStoreKey, vsk ValueStoreKey) error {
			return deref(tx, vsk)
		})
		counts.EntriesDeleted += n
		if err != nil {
			return counts, err
		}

		tx, err = btx.Tx()
		if err != nil {
			return counts, err
		}
		if _, err := s.mapUIDs.DeletePair(tx, uid); err != nil {
			return counts, err
		}
		counts.MapsDeleted++
	}

	tx, err = btx.Tx()
	if err != nil {
		return counts, err
	}
	deleted, err := s.procInfo.Delete(tx, def)
	if err != nil {
		return counts, err
	} else if !deleted {
		return counts, errProcessingInfoGone
	}
	if err := btx.Commit(); err != nil {
		return counts, err
	}

	counts.StreamsPurged++
	s.db.metrics.streamsPurged.Inc()
	s.db.metrics.entriesPurged.Add(counts.EntriesDeleted)
	return counts, nil
}
