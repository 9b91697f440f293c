package refstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by mutations that require an existing entry.
	// Lookups report absence via a bool instead.
	ErrNotFound = errors.New("not found")

	// ErrReferenceCountOverflow is returned when incrementing a reference
	// count that is already at MaxReferenceCount.
	ErrReferenceCountOverflow = errors.New("reference count overflow")

	// ErrUniqueIDExhausted is returned when all 65536 unique ids of a content
	// hash are taken by distinct values.
	ErrUniqueIDExhausted = errors.New("unique id space exhausted for content hash")

	ErrInvalidRange       = errors.New("invalid range")
	ErrNonNumericRangeKey = errors.New("key cannot be used for a range lookup as it is not a non-negative integer")

	// ErrStoreFull is returned by a commit that would grow the store beyond
	// Options.MaxSize.
	ErrStoreFull = errors.New("store size limit reached")

	ErrTxClosed = errors.New("transaction closed")

	// ErrKeyTooLarge is returned by puts whose encoded key exceeds the
	// storage engine's key size limit.
	ErrKeyTooLarge = errors.New("key too large")

	errStopIteration = errors.New("stop iteration")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// tableErrorKeyLimit is the number of key bytes TableError.Error prints.
const tableErrorKeyLimit = 64

// TableError reports a failed operation on one of the store's tables.
type TableError struct {
	Table string
	Key   []byte
	Msg   string
	Err   error
}

func tableErrf(table string, key []byte, err error, format string, args ...any) error {
	return &TableError{table, cloneBytes(key), fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Key != nil {
		buf.WriteByte('/')
		if n := len(e.Key); n > tableErrorKeyLimit {
			buf.WriteString(hexstr(e.Key[:tableErrorKeyLimit]))
			fmt.Fprintf(&buf, "…(+%d bytes)", n-tableErrorKeyLimit)
		} else {
			buf.WriteString(hexstr(e.Key))
		}
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// PutOutcome is the result of a put that may conflict with an existing
// entry. A duplicate is a normal outcome, not an error.
type PutOutcome struct {
	Success   bool
	Duplicate bool
}

func newEntryOutcome() PutOutcome {
	return PutOutcome{Success: true}
}

func replacedEntryOutcome() PutOutcome {
	return PutOutcome{Success: true, Duplicate: true}
}

func failedDuplicateOutcome() PutOutcome {
	return PutOutcome{Success: false, Duplicate: true}
}

func (o PutOutcome) String() string {
	switch {
	case o.Success && !o.Duplicate:
		return "put"
	case o.Success && o.Duplicate:
		return "replaced"
	case o.Duplicate:
		return "duplicate"
	default:
		return "failed"
	}
}
