package refstore

import (
	"bytes"
	"context"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// RawRange defines a range of byte strings. The constructors use mnemonics:
// O means open, I means inclusive, E means exclusive; the first letter is for
// the lower bound, the second for the upper bound.
//
// Bounds are compared as whole keys. A non-nil Prefix additionally limits the
// range to keys starting with it.
type RawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func RawOO() RawRange            { return RawRange{} }
func RawIO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: true} }
func RawEO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: false} }
func RawOI(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: true} }
func RawOE(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: false} }
func RawII(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RawIE(l, u []byte) RawRange {
	return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: false}
}
func RawEI(l, u []byte) RawRange {
	return RawRange{Lower: l, Upper: u, LowerInc: false, UpperInc: true}
}
func RawEE(l, u []byte) RawRange {
	return RawRange{Lower: l, Upper: u, LowerInc: false, UpperInc: false}
}
func RawPrefix(p []byte) RawRange                { return RawRange{Prefix: p} }
func (rang RawRange) Prefixed(p []byte) RawRange { rang.Prefix = p; return rang }
func (rang RawRange) Reversed() RawRange         { rang.Reverse = true; return rang }

func (r *RawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		if upper := r.Upper; upper != nil {
			k, v = bcur.Seek(upper)
			if k == nil {
				k, v = bcur.Last()
			} else if !r.UpperInc || !bytes.Equal(k, upper) {
				k, v = bcur.Prev()
			}
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to upper", hexAttr("upper", upper), hexAttr("key", k))
			}
		} else if r.Prefix != nil {
			k, v = bcur.SeekLast(r.Prefix)
		} else {
			k, v = bcur.Last()
		}
	} else {
		if lower := r.Lower; lower != nil {
			k, v = bcur.Seek(lower)
			if k != nil && !r.LowerInc && bytes.Equal(k, lower) {
				k, v = bcur.Next()
			}
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to lower", hexAttr("lower", lower), hexAttr("key", k))
			}
		} else if r.Prefix != nil {
			k, v = bcur.Seek(r.Prefix)
		} else {
			k, v = bcur.First()
		}
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

func (r *RawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
	} else {
		k, v = bcur.Next()
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "NEXT", hexAttr("key", k), slog.Bool("reverse", r.Reverse))
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

// match reports whether k is still inside the range in the scan direction.
func (r *RawRange) match(k []byte, logger *slog.Logger) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on prefix", hexAttr("prefix", r.Prefix), hexAttr("key", k))
		}
		return false
	}
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp < 0 || (cmp == 0 && !r.LowerInc) {
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp > 0 || (cmp == 0 && !r.UpperInc) {
				return false
			}
		}
	}
	return true
}

func (rang *RawRange) newCursor(bcur storageCursor, logger *slog.Logger) *RawRangeCursor {
	return &RawRangeCursor{rang: *rang, bcur: bcur, logger: logger}
}

type RawRangeCursor struct {
	rang   RawRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (c *RawRangeCursor) Next() bool {
	if c.bcur == nil {
		return false
	}
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	if c.k == nil {
		c.Close()
		return false
	}
	return true
}

// Close releases the underlying cursor. Next closes the cursor itself once
// the range is exhausted, so Close is only required when stopping early.
func (c *RawRangeCursor) Close() {
	if c.bcur != nil {
		c.bcur.Close()
		c.bcur = nil
		c.k, c.v = nil, nil
	}
}

func (c *RawRangeCursor) Key() []byte   { return c.k }
func (c *RawRangeCursor) Value() []byte { return c.v }

// scan returns a cursor over the entries of table within rang.
func (tx *Tx) scan(table string, rang RawRange) *RawRangeCursor {
	return rang.newCursor(tx.bucket(table).Cursor(), tx.db.logger)
}

// forEach calls f for every entry of table within rang. The slices passed to
// f are only valid during the call. The table must not be modified from f.
func (tx *Tx) forEach(table string, rang RawRange, f func(k, v []byte) error) error {
	c := tx.scan(table, rang)
	defer c.Close()
	for c.Next() {
		if err := f(c.Key(), c.Value()); err != nil {
			return err
		}
	}
	return nil
}
