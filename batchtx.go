package refstore

// BatchingWriteTx is a write transaction that commits every MaxBatchSize
// items and lazily opens a fresh transaction for the next batch. Callers
// that iterate must re-seek after their last processed key whenever
// CommitIfRequired reports a commit.
//
// Nothing holds the write lock between batches, so other writers may
// commit in between.
type BatchingWriteTx struct {
	db           *DB
	MaxBatchSize int

	tx        *Tx
	batchSize int
	commits   int
	onCommit  []func()
}

// NewBatchingWriteTx creates a batching transaction. A maxBatchSize of zero
// or less disables automatic commits.
func (db *DB) NewBatchingWriteTx(maxBatchSize int) *BatchingWriteTx {
	return &BatchingWriteTx{db: db, MaxBatchSize: maxBatchSize}
}

// Tx returns the current write transaction, opening one if needed.
func (b *BatchingWriteTx) Tx() (*Tx, error) {
	if b.tx == nil {
		tx, err := b.db.Begin(true)
		if err != nil {
			return nil, err
		}
		for _, f := range b.onCommit {
			tx.OnCommit(f)
		}
		b.tx = tx
	}
	return b.tx, nil
}

// OnEachCommit registers f to run after every successful batch commit.
func (b *BatchingWriteTx) OnEachCommit(f func()) {
	b.onCommit = append(b.onCommit, f)
	if b.tx != nil {
		b.tx.OnCommit(f)
	}
}

// CommitIfRequired counts one item and commits once the batch is full. It
// reports whether a commit happened.
func (b *BatchingWriteTx) CommitIfRequired() (bool, error) {
	b.batchSize++
	if b.MaxBatchSize > 0 && b.batchSize >= b.MaxBatchSize {
		return true, b.Commit()
	}
	return false, nil
}

// Commit commits the current transaction, if any, and resets the batch.
func (b *BatchingWriteTx) Commit() error {
	b.batchSize = 0
	tx := b.tx
	if tx == nil {
		return nil
	}
	b.tx = nil
	err := tx.Commit()
	if err != nil {
		return err
	}
	b.commits++
	b.db.metrics.batchCommits.Inc()
	return nil
}

// Abort rolls back the current transaction, if any.
func (b *BatchingWriteTx) Abort() {
	b.batchSize = 0
	if b.tx != nil {
		b.tx.Close()
		b.tx = nil
	}
}

// Close aborts any uncommitted work. Use Commit to keep it.
func (b *BatchingWriteTx) Close() {
	b.Abort()
}

func (b *BatchingWriteTx) BatchSize() int {
	return b.batchSize
}

// Commits returns the number of batches committed so far.
func (b *BatchingWriteTx) Commits() int {
	return b.commits
}
