package refstore

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ProcessingState is the lifecycle state of a loaded reference stream. The
// numeric values are persisted.
type ProcessingState byte

const (
	LoadInProgress  ProcessingState = 0
	PurgeInProgress ProcessingState = 1
	Complete        ProcessingState = 2
	Failed          ProcessingState = 3
	Terminated      ProcessingState = 4
	PurgeFailed     ProcessingState = 5
	ReadyForPurge   ProcessingState = 6
	Staged          ProcessingState = 7
)

var processingStateNames = [...]string{
	LoadInProgress:  "LOAD_IN_PROGRESS",
	PurgeInProgress: "PURGE_IN_PROGRESS",
	Complete:        "COMPLETE",
	Failed:          "FAILED",
	Terminated:      "TERMINATED",
	PurgeFailed:     "PURGE_FAILED",
	ReadyForPurge:   "READY_FOR_PURGE",
	Staged:          "STAGED",
}

func (s ProcessingState) String() string {
	if int(s) < len(processingStateNames) {
		return processingStateNames[s]
	}
	return fmt.Sprintf("ProcessingState(%d)", byte(s))
}

func ParseProcessingState(s string) (ProcessingState, error) {
	for i, name := range processingStateNames {
		if name == s {
			return ProcessingState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown processing state %q", s)
}

// isPartial reports states left behind by an interrupted load or purge.
func (s ProcessingState) isPartial() bool {
	switch s {
	case LoadInProgress, PurgeInProgress, Terminated, ReadyForPurge:
		return true
	default:
		return false
	}
}

type ProcessingInfo struct {
	CreateTime       time.Time
	LastAccessedTime time.Time
	EffectiveTime    time.Time
	State            ProcessingState
}

// Layout: create time, last accessed time and effective time as big-endian
// Unix milliseconds, then the state byte.
const (
	procInfoLastAccessedOff = 8
	procInfoStateOff        = 24
	procInfoLength          = 25
)

func (pi ProcessingInfo) appendTo(bb *bytesBuilder) {
	bb.AppendFixedUint64(uint64(pi.CreateTime.UnixMilli()))
	bb.AppendFixedUint64(uint64(pi.LastAccessedTime.UnixMilli()))
	bb.AppendFixedUint64(uint64(pi.EffectiveTime.UnixMilli()))
	bb.AppendByte(byte(pi.State))
}

func decodeProcessingInfo(b []byte) (ProcessingInfo, error) {
	if len(b) != procInfoLength {
		return ProcessingInfo{}, dataErrf(b, 0, nil, "processing info must be %d bytes", procInfoLength)
	}
	return ProcessingInfo{
		CreateTime:       time.UnixMilli(int64(binary.BigEndian.Uint64(b))),
		LastAccessedTime: time.UnixMilli(int64(binary.BigEndian.Uint64(b[procInfoLastAccessedOff:]))),
		EffectiveTime:    time.UnixMilli(int64(binary.BigEndian.Uint64(b[16:]))),
		State:            ProcessingState(b[procInfoStateOff]),
	}, nil
}

// ProcessingInfoDB tracks the state of every loaded reference stream, keyed
// by the encoded RefStreamDefinition.
type ProcessingInfoDB struct {
	db *DB
}

func newProcessingInfoDB(db *DB) *ProcessingInfoDB {
	return &ProcessingInfoDB{db: db}
}

func (s *ProcessingInfoDB) encodeKey(def RefStreamDefinition) *pooledBuf {
	kb := s.db.bufs.acquire(keyBufCap)
	def.appendTo(&kb.bytesBuilder)
	return kb
}

func (s *ProcessingInfoDB) put(tx *Tx, key []byte, info ProcessingInfo) error {
	vb := s.db.bufs.acquire(procInfoLength)
	info.appendTo(&vb.bytesBuilder)
	return tx.putBuf(tableProcessingInfo, key, vb)
}

func (s *ProcessingInfoDB) Put(tx *Tx, def RefStreamDefinition, info ProcessingInfo, overwrite bool) (PutOutcome, error) {
	kb := s.encodeKey(def)
	defer kb.release()

	exists := tx.bucket(tableProcessingInfo).Get(kb.Bytes()) != nil
	if exists && !overwrite {
		return failedDuplicateOutcome(), nil
	}
	if err := s.put(tx, kb.Bytes(), info); err != nil {
		return PutOutcome{}, err
	}
	if exists {
		return replacedEntryOutcome(), nil
	}
	return newEntryOutcome(), nil
}

func (s *ProcessingInfoDB) getRaw(tx *Tx, key []byte) (ProcessingInfo, bool, error) {
	raw := tx.bucket(tableProcessingInfo).Get(key)
	if raw == nil {
		return ProcessingInfo{}, false, nil
	}
	info, err := decodeProcessingInfo(raw)
	if err != nil {
		return ProcessingInfo{}, false, tableErrf(tableProcessingInfo, key, err, "")
	}
	return info, true, nil
}

func (s *ProcessingInfoDB) Get(tx *Tx, def RefStreamDefinition) (ProcessingInfo, bool, error) {
	kb := s.encodeKey(def)
	defer kb.release()
	return s.getRaw(tx, kb.Bytes())
}

// UpdateProcessingState sets the state of def, optionally also setting its
// last accessed time to now. Returns false if def is unknown.
func (s *ProcessingInfoDB) UpdateProcessingState(tx *Tx, def RefStreamDefinition, state ProcessingState, touchAccessTime bool) (bool, error) {
	kb := s.encodeKey(def)
	defer kb.release()

	info, found, err := s.getRaw(tx, kb.Bytes())
	if !found || err != nil {
		return false, err
	}
	info.State = state
	if touchAccessTime {
		info.LastAccessedTime = s.db.now()
	}
	return true, s.put(tx, kb.Bytes(), info)
}

// UpdateLastAccessedTime sets the last accessed time of def to now.
func (s *ProcessingInfoDB) UpdateLastAccessedTime(tx *Tx, def RefStreamDefinition) (bool, error) {
	return s.SetLastAccessedTime(tx, def, s.db.now())
}

func (s *ProcessingInfoDB) SetLastAccessedTime(tx *Tx, def RefStreamDefinition, t time.Time) (bool, error) {
	kb := s.encodeKey(def)
	defer kb.release()

	info, found, err := s.getRaw(tx, kb.Bytes())
	if !found || err != nil {
		return false, err
	}
	info.LastAccessedTime = t
	return true, s.put(tx, kb.Bytes(), info)
}

func (s *ProcessingInfoDB) Delete(tx *Tx, def RefStreamDefinition) (bool, error) {
	kb := s.encodeKey(def)
	defer kb.release()

	if tx.bucket(tableProcessingInfo).Get(kb.Bytes()) == nil {
		return false, nil
	}
	return true, tx.delete(tableProcessingInfo, kb.Bytes())
}

func (s *ProcessingInfoDB) EntryCount(tx *Tx) int {
	return tx.bucket(tableProcessingInfo).KeyCount()
}

func (s *ProcessingInfoDB) ForEachEntry(tx *Tx, rang RawRange, f func(def RefStreamDefinition, info ProcessingInfo) error) error {
	return tx.forEach(tableProcessingInfo, rang, func(k, v []byte) error {
		def, err := decodeRefStreamDefinition(k)
		if err != nil {
			return tableErrf(tableProcessingInfo, k, err, "")
		}
		info, err := decodeProcessingInfo(v)
		if err != nil {
			return tableErrf(tableProcessingInfo, k, err, "")
		}
		return f(def, info)
	})
}

// FindFirstMatching returns the first entry after the given encoded key (or
// from the start when after is nil) that satisfies pred.
func (s *ProcessingInfoDB) FindFirstMatching(tx *Tx, after []byte, pred func(def RefStreamDefinition, info ProcessingInfo) bool) (RefStreamDefinition, ProcessingInfo, bool, error) {
	var rang RawRange
	if after != nil {
		rang = RawEO(after)
	}
	var def RefStreamDefinition
	var info ProcessingInfo
	var found bool
	err := s.ForEachEntry(tx, rang, func(d RefStreamDefinition, i ProcessingInfo) error {
		if pred(d, i) {
			def, info, found = d, i, true
			return errStopIteration
		}
		return nil
	})
	if err == errStopIteration {
		err = nil
	}
	return def, info, found, err
}
