package fdata

// CacheValue is one entry returned from a Cache lookup: the identity it was
// stored under, plus the parsed artifact itself (spec §6.3).
type CacheValue interface {
	// Identifier returns the (file_index, offset, timestamp) tuple this
	// entry was stamped with at insertion time.
	Identifier() (fileIndex int32, offset int64, timestamp uint64)

	// Value returns the cached artifact (a []byte for stream segment
	// reads, a *TreeNode for tree node reads).
	Value() interface{}
}

// Cache is the narrow interface this package consumes from the external,
// caller-owned value cache (spec §1, §6.3). The library never constructs
// one; it only calls through this interface. Slot selection, eviction, and
// capacity are entirely the concrete Cache implementation's concern — see
// internal/cachestore for a golang-lru-backed reference implementation.
type Cache interface {
	// GetValueByIdentifier returns the entry stored for (fileIndex,
	// offset), and whether it is present. Callers must additionally check
	// the returned value's timestamp against their own current timestamp:
	// a cache hit whose timestamp disagrees with the caller's generation
	// is treated as a miss, never as an error (spec §4.3 "Failure
	// semantics").
	GetValueByIdentifier(fileIndex int32, offset int64, timestamp uint64) (CacheValue, bool)

	// SetValueByIdentifier inserts or replaces the entry for (fileIndex,
	// offset), stamping it with timestamp. freeValue, if non-nil, is
	// invoked by the cache when the entry is evicted or overwritten.
	SetValueByIdentifier(fileIndex int32, offset int64, timestamp uint64, value interface{}, freeValue func(interface{}) error) error
}

// cacheLookup resolves a Cache hit, applying the timestamp-mismatch-is-a-
// miss rule shared by Stream's cached read and Tree's node cache.
func cacheLookup(cache Cache, fileIndex int32, offset int64, timestamp uint64) (interface{}, bool) {
	if cache == nil {
		return nil, false
	}
	cv, ok := cache.GetValueByIdentifier(fileIndex, offset, timestamp)
	if !ok {
		return nil, false
	}
	gotFile, gotOffset, gotTimestamp := cv.Identifier()
	if gotFile != fileIndex || gotOffset != offset || gotTimestamp != timestamp {
		return nil, false
	}
	return cv.Value(), true
}
