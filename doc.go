/*
Package refstore implements an off-heap store of reference data: maps of
string keys or numeric ranges to values, loaded from reference streams and
kept on disk (Bolt by default, LevelDB optionally).

Values are deduplicated. A value used by many maps, or many times within one
map, is stored once and reference counted.

# Tables

**ValueStore** holds every distinct value. Key: 8-byte big-endian value hash
followed by a 2-byte unique id that tells apart values with colliding hashes.
Value: type byte, then the serialized value.

**ValueStoreMeta** shares the ValueStore keys. Value: type byte, then a
4-byte big-endian reference count. A value whose count drops to zero is
deleted from both tables.

**KeyValueStore** maps (map UID, string key) to a ValueStore key. Key: 4-byte
map UID followed by the UTF-8 key.

**RangeStore** maps (map UID, range) to a ValueStore key. Key: 4-byte map UID,
8-byte big-endian range start (inclusive), 8-byte big-endian range end
(exclusive). Ranges are non-negative, so byte order equals numeric order.

**ProcessingInfo** tracks the lifecycle of each loaded stream. Key: the
encoded RefStreamDefinition. Value: create, last access and effective times
as 8-byte big-endian Unix milliseconds, then the state byte.

**MapUidForward** and **MapUidReverse** assign a compact 4-byte UID to every
MapDefinition (stream definition plus map name). UIDs start at 1 and are not
reused until the highest one is purged.

# Loading

A Loader takes the per-stream lock, marks the stream LoadInProgress, writes
entries through a BatchingWriteTx that commits every MaxPutsBeforeCommit
puts, and finally records Complete, Failed or Terminated.

# Purging

PurgeOldData removes streams that were not accessed within the purge age.
PurgePartialLoads removes streams left in a partial state by a crash or an
abandoned load; it also runs when the store is opened.
*/
package refstore
