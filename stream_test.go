package fdata_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/fdata"
	itesting "github.com/scigolib/fdata/internal/testing"
)

func newTestStream(t *testing.T, files map[int32][]byte) *fdata.Stream {
	t.Helper()
	backend := itesting.NewMultiFileReaderAt(files)

	var stream *fdata.Stream
	read := func(handle interface{}, ioHandle interface{}, segmentIndex int, buf []byte, flags uint32) (int, error) {
		seg, err := stream.SegmentByIndex(segmentIndex)
		require.NoError(t, err)
		return backend.ReadAt(seg.FileIndex(), buf, seg.Offset())
	}

	var err error
	stream, err = fdata.NewStream(nil, fdata.StreamCallbacks{ReadSegmentData: read}, 0)
	require.NoError(t, err)
	return stream
}

func TestStreamAppendSegmentSequence(t *testing.T) {
	s := newTestStream(t, map[int32][]byte{0: make([]byte, 100)})

	idx0, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx0)

	idx1, err := s.AppendSegment(0, 10, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, idx1)

	assert.Equal(t, 2, s.NumberOfSegments())
	assert.Equal(t, uint64(30), s.Size())

	mr0, err := s.SegmentMappedRange(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mr0.LogicalOffset)
	assert.Equal(t, uint64(10), mr0.Size)

	mr1, err := s.SegmentMappedRange(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), mr1.LogicalOffset)
	assert.Equal(t, uint64(20), mr1.Size)
}

func TestStreamSegmentIndexAtOffset(t *testing.T) {
	s := newTestStream(t, map[int32][]byte{0: make([]byte, 100)})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)
	_, err = s.AppendSegment(0, 10, 20, 0)
	require.NoError(t, err)

	idx, dataOffset, err := s.SegmentIndexAtOffset(15)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, uint64(5), dataOffset)

	_, _, err = s.SegmentIndexAtOffset(30)
	require.Error(t, err)
	assert.ErrorIs(t, err, fdata.ErrOutOfBounds)
}

func TestStreamReadBufferAcrossSegments(t *testing.T) {
	fileData := make([]byte, 30)
	for i := range fileData {
		fileData[i] = byte(i)
	}
	s := newTestStream(t, map[int32][]byte{0: fileData})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)
	_, err = s.AppendSegment(0, 10, 20, 0)
	require.NoError(t, err)

	buf := make([]byte, 30)
	n, err := s.ReadBufferAtOffset(nil, nil, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, fileData, buf)
}

func TestStreamReadBufferStopsAtEnd(t *testing.T) {
	fileData := make([]byte, 10)
	s := newTestStream(t, map[int32][]byte{0: fileData})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)

	buf := make([]byte, 20)
	n, err := s.ReadBufferAtOffset(nil, nil, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestStreamCachedReadHitsCache(t *testing.T) {
	fileData := make([]byte, 10)
	s := newTestStream(t, map[int32][]byte{0: fileData})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)

	cache := itesting.NewMockCache()
	buf := make([]byte, 10)

	_, err = s.ReadBufferAtOffset(nil, cache, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Sets)

	_, err = s.ReadBufferAtOffset(nil, cache, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Sets, "second read should hit the cache, not re-populate it")
	assert.GreaterOrEqual(t, cache.Gets, 1)
}

func TestStreamSeekOffsetToEnd(t *testing.T) {
	s := newTestStream(t, map[int32][]byte{0: make([]byte, 10)})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)

	pos, err := s.SeekOffset(nil, 0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)
}

func TestStreamSetMappedSize(t *testing.T) {
	s := newTestStream(t, map[int32][]byte{0: make([]byte, 10)})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)

	require.NoError(t, s.SetMappedSize(4))
	assert.Equal(t, uint64(4), s.Size())

	err = s.SetMappedSize(100)
	require.Error(t, err)
}

func TestStreamCloneIsIndependent(t *testing.T) {
	s := newTestStream(t, map[int32][]byte{0: make([]byte, 10)})
	_, err := s.AppendSegment(0, 0, 10, 0)
	require.NoError(t, err)

	clone, err := s.Clone()
	require.NoError(t, err)
	assert.Equal(t, s.NumberOfSegments(), clone.NumberOfSegments())

	_, err = clone.AppendSegment(0, 10, 5, 0)
	require.NoError(t, err)
	assert.NotEqual(t, s.NumberOfSegments(), clone.NumberOfSegments())
}

func TestStreamCloseFreesManagedHandle(t *testing.T) {
	freed := false
	stream, err := fdata.NewStream("handle", fdata.StreamCallbacks{
		ReadSegmentData: func(interface{}, interface{}, int, []byte, uint32) (int, error) { return 0, nil },
		FreeDataHandle: func(interface{}) error {
			freed = true
			return nil
		},
	}, fdata.StreamDataHandleManaged)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	assert.True(t, freed)
}
