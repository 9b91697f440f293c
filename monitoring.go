package refstore

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

type dbMetrics struct {
	set *metrics.Set

	valuesCreated      *metrics.Counter
	valuesDeduplicated *metrics.Counter
	valuesDeleted      *metrics.Counter
	entriesPut         *metrics.Counter
	entriesPurged      *metrics.Counter
	streamsPurged      *metrics.Counter
	commits            *metrics.Counter
	batchCommits       *metrics.Counter
}

func newDBMetrics(db *DB) *dbMetrics {
	set := metrics.NewSet()
	m := &dbMetrics{
		set:                set,
		valuesCreated:      set.GetOrCreateCounter("refstore_values_created_total"),
		valuesDeduplicated: set.GetOrCreateCounter("refstore_values_deduplicated_total"),
		valuesDeleted:      set.GetOrCreateCounter("refstore_values_deleted_total"),
		entriesPut:         set.GetOrCreateCounter("refstore_entries_put_total"),
		entriesPurged:      set.GetOrCreateCounter("refstore_entries_purged_total"),
		streamsPurged:      set.GetOrCreateCounter("refstore_streams_purged_total"),
		commits:            set.GetOrCreateCounter("refstore_commits_total"),
		batchCommits:       set.GetOrCreateCounter("refstore_batch_commits_total"),
	}
	set.NewGauge("refstore_size_bytes", func() float64 {
		return float64(db.Size())
	})
	set.NewGauge("refstore_open_readers", func() float64 {
		return float64(db.ReaderCount.Load())
	})
	set.NewGauge("refstore_open_writers", func() float64 {
		return float64(db.WriterCount.Load())
	})
	set.NewGauge("refstore_pooled_buffers_outstanding", func() float64 {
		return float64(db.bufs.Outstanding())
	})
	return m
}

func (m *dbMetrics) registerStore(s *Store) {
	m.set.NewGauge("refstore_map_uids_cached", func() float64 {
		return float64(s.mapUIDs.cachedCount())
	})
}

// WritePrometheus writes the store's metrics in Prometheus text format.
func (db *DB) WritePrometheus(w io.Writer) {
	db.metrics.set.WritePrometheus(w)
}

func (s *Store) WritePrometheus(w io.Writer) {
	s.db.WritePrometheus(w)
}

type TableStats struct {
	Rows       int
	DataSize   int64
	DataAlloc  int64
	TotalAlloc int64
}

func (tx *Tx) TableStats(table string) TableStats {
	bs := tx.bucket(table).Stats()
	return TableStats{
		Rows:       bs.KeyN,
		DataSize:   bs.LeafInuse,
		DataAlloc:  bs.LeafAlloc,
		TotalAlloc: bs.TotalAlloc(),
	}
}

// Stats returns the statistics of every table, keyed by table name.
func (s *Store) Stats() map[string]TableStats {
	result := make(map[string]TableStats, len(allTables))
	s.db.Read(func(tx *Tx) {
		for _, name := range allTables {
			result[name] = tx.TableStats(name)
		}
	})
	return result
}

func (ts TableStats) String() string {
	return fmt.Sprintf("rows = %d, data_size = %d, data_alloc = %d, total_alloc = %d", ts.Rows, ts.DataSize, ts.DataAlloc, ts.TotalAlloc)
}
