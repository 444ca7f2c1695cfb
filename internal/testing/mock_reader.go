// Package testing provides test doubles shared across the fdata test
// suites: mock io.ReaderAt backends and a minimal in-memory Cache.
package testing

import (
	"errors"

	"github.com/scigolib/fdata"
)

// MockReaderAt is a mock implementation of io.ReaderAt for testing.
type MockReaderAt struct {
	data []byte
}

// NewMockReaderAt creates a new mock reader with the given data.
func NewMockReaderAt(data []byte) *MockReaderAt {
	return &MockReaderAt{data: data}
}

// ReadAt implements io.ReaderAt interface for the mock reader.
func (m *MockReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}

	if off >= int64(len(m.data)) {
		return 0, errors.New("offset beyond EOF")
	}

	n = copy(p, m.data[off:])
	if n < len(p) {
		err = errors.New("short read")
	}
	return
}

// MultiFileReaderAt is a mock backend spanning several logical files, keyed
// by the file_index a Range/TreeRange carries. The segment callback of the
// stream tests reads through it.
type MultiFileReaderAt struct {
	files map[int32][]byte
}

// NewMultiFileReaderAt builds a backend from a file_index -> bytes map.
func NewMultiFileReaderAt(files map[int32][]byte) *MultiFileReaderAt {
	return &MultiFileReaderAt{files: files}
}

// ReadAt reads len(p) bytes for fileIndex at off, failing on a short read
// exactly like a real segmented backend would.
func (m *MultiFileReaderAt) ReadAt(fileIndex int32, p []byte, off int64) (int, error) {
	data, ok := m.files[fileIndex]
	if !ok {
		return 0, errors.New("unknown file index")
	}
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(data)) {
		return 0, errors.New("offset beyond EOF")
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, errors.New("short read")
	}
	return n, nil
}

// mockCacheEntry satisfies fdata.CacheValue.
type mockCacheEntry struct {
	fileIndex int32
	offset    int64
	timestamp uint64
	value     interface{}
}

func (e *mockCacheEntry) Identifier() (fileIndex int32, offset int64, timestamp uint64) {
	return e.fileIndex, e.offset, e.timestamp
}

func (e *mockCacheEntry) Value() interface{} { return e.value }

var _ fdata.CacheValue = (*mockCacheEntry)(nil)
var _ fdata.Cache = (*MockCache)(nil)

// MockCache is a trivial unbounded in-memory cache satisfying fdata.Cache,
// for tests that need a real cache round-trip without pulling in the
// golang-lru-backed production adapter.
type MockCache struct {
	entries map[mockCacheKey]*mockCacheEntry
	Gets    int
	Sets    int
}

type mockCacheKey struct {
	fileIndex int32
	offset    int64
}

// NewMockCache builds an empty MockCache.
func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[mockCacheKey]*mockCacheEntry)}
}

// GetValueByIdentifier implements fdata.Cache.
func (c *MockCache) GetValueByIdentifier(fileIndex int32, offset int64, timestamp uint64) (fdata.CacheValue, bool) {
	c.Gets++
	e, ok := c.entries[mockCacheKey{fileIndex, offset}]
	if !ok {
		return nil, false
	}
	return e, true
}

// SetValueByIdentifier implements fdata.Cache.
func (c *MockCache) SetValueByIdentifier(fileIndex int32, offset int64, timestamp uint64, value interface{}, freeValue func(interface{}) error) error {
	c.Sets++
	c.entries[mockCacheKey{fileIndex, offset}] = &mockCacheEntry{
		fileIndex: fileIndex,
		offset:    offset,
		timestamp: timestamp,
		value:     value,
	}
	return nil
}
