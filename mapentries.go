package refstore

import (
	"bytes"
)

// deleteEntriesWithPrefix removes every entry of table whose key starts with
// prefix, calling f before each removal. It counts each removal towards
// btx's batch and re-seeks from prefix after every mutation, so commits in
// the middle of the run are safe.
func deleteEntriesWithPrefix(btx *BatchingWriteTx, table string, prefix []byte, f func(tx *Tx, k, v []byte) error) (int, error) {
	bufs := btx.db.bufs
	var n int
	for {
		tx, err := btx.Tx()
		if err != nil {
			return n, err
		}

		cur := tx.bucket(table).Cursor()
		k, v := cur.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			cur.Close()
			return n, nil
		}

		kb := bufs.acquire(len(k))
		kb.Write(k)
		vb := bufs.acquire(len(v))
		vb.Write(v)
		cur.Close()

		err = f(tx, kb.Bytes(), vb.Bytes())
		if err == nil {
			err = tx.delete(table, kb.Bytes())
		}
		kb.release()
		vb.release()
		if err != nil {
			return n, err
		}
		n++

		if _, err := btx.CommitIfRequired(); err != nil {
			return n, err
		}
	}
}

func countEntriesWithPrefix(tx *Tx, table string, prefix []byte) int {
	var n int
	c := tx.scan(table, RawPrefix(prefix))
	defer c.Close()
	for c.Next() {
		n++
	}
	return n
}

// maxUIDOf returns the UID prefix of the last key in a UID-prefixed table.
func maxUIDOf(tx *Tx, table string) (UID, bool) {
	cur := tx.bucket(table).Cursor()
	defer cur.Close()
	k, _ := cur.Last()
	if k == nil {
		return 0, false
	}
	return uidPrefix(k)
}
