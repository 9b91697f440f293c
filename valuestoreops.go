package refstore

// ValueStore combines ValueStoreDB and ValueStoreMetaDB so that every value
// key handed out is backed by a reference count.
type ValueStore struct {
	db     *DB
	values *ValueStoreDB
	meta   *ValueStoreMetaDB
}

func newValueStore(db *DB) *ValueStore {
	return &ValueStore{
		db:     db,
		values: newValueStoreDB(db),
		meta:   newValueStoreMetaDB(db),
	}
}

func (vs *ValueStore) Values() *ValueStoreDB   { return vs.values }
func (vs *ValueStore) Meta() *ValueStoreMetaDB { return vs.meta }

// GetOrCreateKey returns a key for sv holding one more reference than
// before: a new entry starts at one, a deduplicated one is incremented.
func (vs *ValueStore) GetOrCreateKey(tx *Tx, sv StagingValue) (ValueStoreKey, error) {
	key, created, err := vs.values.GetOrCreate(tx, sv)
	if err != nil {
		return ValueStoreKey{}, err
	}
	if created {
		err = vs.meta.CreateMetaEntryForValue(tx, key, sv)
		vs.db.metrics.valuesCreated.Inc()
	} else {
		err = vs.meta.IncrementReferenceCount(tx, key)
		vs.db.metrics.valuesDeduplicated.Inc()
	}
	if err != nil {
		return ValueStoreKey{}, err
	}
	return key, nil
}

// DeReferenceOrDeleteValue drops one reference to key and deletes the value
// once nothing refers to it.
func (vs *ValueStore) DeReferenceOrDeleteValue(tx *Tx, key ValueStoreKey) (bool, error) {
	deleted, err := vs.meta.DeReferenceOrDeleteValue(tx, key, func(tx *Tx, key ValueStoreKey) error {
		_, err := vs.values.Delete(tx, key)
		return err
	})
	if deleted {
		vs.db.metrics.valuesDeleted.Inc()
	}
	return deleted, err
}

func (vs *ValueStore) AreValuesEqual(tx *Tx, key ValueStoreKey, sv StagingValue) bool {
	return vs.values.AreValuesEqual(tx, key, sv)
}

func (vs *ValueStore) Get(tx *Tx, key ValueStoreKey) (Value, bool, error) {
	return vs.values.GetValue(tx, key)
}
