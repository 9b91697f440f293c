package refstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpRaw

	DumpAll = DumpTableHeaders | DumpRows | DumpStats

	dumpRowLimit = 10_000
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the tables of the store as text, decoded unless DumpRaw is
// set. Each table is cut off after a fixed number of rows.
func (s *Store) Dump(f DumpFlags) string {
	var buf strings.Builder
	s.db.Read(func(tx *Tx) {
		for _, name := range allTables {
			s.dumpTable(&buf, tx, f, name)
		}
	})
	return buf.String()
}

func (s *Store) dumpTable(w *strings.Builder, tx *Tx, f DumpFlags, table string) {
	st := tx.TableStats(table)
	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s %d rows\n", rpad(table, 20, '.'), st.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: %v\n", table, st)
	}
	if !f.Contains(DumpRows) {
		return
	}
	if f.Contains(DumpStats) {
		fmt.Fprintln(w, dumpSep2)
	}

	var rowPos int
	err := tx.forEach(table, RawOO(), func(k, v []byte) error {
		rowPos++
		if rowPos > dumpRowLimit {
			fmt.Fprintf(w, "%s: ... (%d more rows)\n", table, st.Rows-dumpRowLimit)
			return errStopIteration
		}
		if f.Contains(DumpRaw) {
			fmt.Fprintf(w, "%s.%d: %s => %s\n", table, rowPos, hexstr(k), hexstr(v))
		} else {
			fmt.Fprintf(w, "%s.%d: %s\n", table, rowPos, s.describeRow(tx, table, k, v))
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		fmt.Fprintf(w, "%s: ** ERROR: %v\n", table, err)
	}
}

// describeRow decodes one table row for humans. Undecodable rows are shown
// in hex with the error.
func (s *Store) describeRow(tx *Tx, table string, k, v []byte) string {
	var desc string
	var err error
	switch table {
	case tableValueStore:
		var key ValueStoreKey
		var sv StoredValue
		if key, err = decodeValueStoreKey(k); err == nil {
			if sv, err = decodeStoredValue(v); err == nil {
				desc = fmt.Sprintf("%v => %v %s", key, sv.TypeID, describeValue(sv))
			}
		}
	case tableValueStoreMeta:
		var key ValueStoreKey
		var m valueMeta
		if key, err = decodeValueStoreKey(k); err == nil {
			if m, err = decodeValueMeta(v); err == nil {
				desc = fmt.Sprintf("%v => %v refs=%d", key, m.TypeID, m.RefCount)
			}
		}
	case tableKeyValueStore:
		var key KeyValueStoreKey
		var vsk ValueStoreKey
		if key, err = decodeKeyValueStoreKey(k); err == nil {
			if vsk, err = decodeValueStoreKey(v); err == nil {
				desc = fmt.Sprintf("%v => %v", key, vsk)
			}
		}
	case tableRangeStore:
		var key RangeStoreKey
		var vsk ValueStoreKey
		if key, err = decodeRangeStoreKey(k); err == nil {
			if vsk, err = decodeValueStoreKey(v); err == nil {
				desc = fmt.Sprintf("%v => %v", key, vsk)
			}
		}
	case tableProcessingInfo:
		var def RefStreamDefinition
		var info ProcessingInfo
		if def, err = decodeRefStreamDefinition(k); err == nil {
			if info, err = decodeProcessingInfo(v); err == nil {
				desc = fmt.Sprintf("%v => %v created=%v accessed=%v effective=%v", def, info.State,
					info.CreateTime.UTC().Format(timeFormat), info.LastAccessedTime.UTC().Format(timeFormat), info.EffectiveTime.UTC().Format(timeFormat))
			}
		}
	case tableMapUIDForward:
		var def MapDefinition
		var uid UID
		if def, err = decodeMapDefinition(k); err == nil {
			if uid, err = decodeUID(v); err == nil {
				desc = fmt.Sprintf("%v => %v", def, uid)
			}
		}
	case tableMapUIDReverse:
		var uid UID
		var def MapDefinition
		if uid, err = decodeUID(k); err == nil {
			if err = decodeMsgpack(v, &def); err == nil {
				desc = fmt.Sprintf("%v => %v", uid, def)
			}
		}
	case tableStoreInfo:
		desc = fmt.Sprintf("%s => %s", k, v)
	default:
		return hexstr(k) + " => " + hexstr(v)
	}
	if err != nil {
		return fmt.Sprintf("%s => %s ** ERROR: %v", hexstr(k), hexstr(v), err)
	}
	return desc
}

const timeFormat = "2006-01-02T15:04:05.000Z"

const describeValueLimit = 120

func describeValue(sv StoredValue) string {
	var s string
	switch sv.TypeID {
	case StringValueType:
		s = fmt.Sprintf("%q", sv.Data)
	case RecordValueType:
		v, err := sv.Value()
		if err != nil {
			return "** " + err.Error()
		}
		s = fmt.Sprintf("%v", v)
	default:
		s = hexstr(sv.Data)
	}
	if len(s) > describeValueLimit {
		s = s[:describeValueLimit] + "..."
	}
	return s
}

// LogDatabaseContents logs every decoded row of every table at debug level.
func (s *Store) LogDatabaseContents() {
	s.logContents(false)
}

// LogRawDatabaseContents logs every row of every table in hex at debug level.
func (s *Store) LogRawDatabaseContents() {
	s.logContents(true)
}

func (s *Store) logContents(raw bool) {
	logger := s.logger()
	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.db.Read(func(tx *Tx) {
		for _, table := range allTables {
			logger.LogAttrs(ctx, slog.LevelDebug, "table contents", slog.String("table", table), slog.Int("rows", tx.bucket(table).KeyCount()))
			tx.forEach(table, RawOO(), func(k, v []byte) error {
				if raw {
					logger.LogAttrs(ctx, slog.LevelDebug, table, hexAttr("key", k), hexAttr("value", v))
				} else {
					logger.LogAttrs(ctx, slog.LevelDebug, table, slog.String("row", s.describeRow(tx, table, k, v)))
				}
				return nil
			})
		}
	})
}
