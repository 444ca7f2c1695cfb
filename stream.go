package fdata

import (
	"fmt"
	"io"

	"github.com/scigolib/fdata/internal/utils"
)

// Stream flag bits (spec §6.2).
const (
	// StreamDataHandleManaged means the Stream owns dataHandle and must
	// invoke FreeDataHandle on Close.
	StreamDataHandleManaged uint32 = 0x01

	// StreamRecomputeMappedRanges marks the mapped-range index stale; any
	// read, seek, or resolve operation must recompute it first.
	StreamRecomputeMappedRanges uint32 = 0x02
)

// FreeDataHandle disposes an opaque handle. Must be idempotent.
type FreeDataHandle func(handle interface{}) error

// CloneDataHandle deep-copies an opaque handle.
type CloneDataHandle func(handle interface{}) (interface{}, error)

// ReadSegmentData pulls physical bytes for one segment. It must fill buf
// completely or return an error — partial reads are fatal (spec §4.1).
type ReadSegmentData func(handle interface{}, ioHandle interface{}, segmentIndex int, buf []byte, flags uint32) (int, error)

// WriteSegmentData pushes physical bytes for one segment. Optional.
type WriteSegmentData func(handle interface{}, ioHandle interface{}, stream *Stream, segmentIndex int, fileIndex int32, buf []byte, flags uint32) (int, error)

// SeekSegmentOffset positions the backing I/O handle for one segment.
// Optional; when absent, seeking is purely logical (cursor bookkeeping).
type SeekSegmentOffset func(handle interface{}, ioHandle interface{}, stream *Stream, segmentIndex int, fileIndex int32, offset int64, whence int) (int64, error)

// StreamCallbacks is the capability set a Stream's caller supplies (spec
// §4.1, §6.1). ReadSegmentData is mandatory; the others are optional.
type StreamCallbacks struct {
	FreeDataHandle    FreeDataHandle
	CloneDataHandle   CloneDataHandle
	ReadSegmentData   ReadSegmentData
	WriteSegmentData  WriteSegmentData
	SeekSegmentOffset SeekSegmentOffset
}

// Stream is an ordered sequence of segment ranges over one logical byte
// space, presenting random-access read/seek through a mapped-range index
// that is recomputed lazily on structural mutation (spec §3.4, §4.1).
type Stream struct {
	dataHandle interface{}
	callbacks  StreamCallbacks
	flags      uint32
	timestamp  uint64

	segments     []Range
	mappedRanges []MappedRange
	dataSize     uint64
	mappedSize   *uint64

	cursorOffset            int64
	cursorSegmentIndex      int
	cursorSegmentDataOffset uint64

	recompute bool
}

// NewStream constructs a Stream over dataHandle. ReadSegmentData is
// required; flags.StreamDataHandleManaged transfers ownership of
// dataHandle to the Stream.
func NewStream(dataHandle interface{}, callbacks StreamCallbacks, flags uint32) (*Stream, error) {
	if callbacks.ReadSegmentData == nil {
		return nil, fmt.Errorf("%w: ReadSegmentData callback", ErrValueMissing)
	}
	return &Stream{
		dataHandle: dataHandle,
		callbacks:  callbacks,
		flags:      flags,
		timestamp:  1,
		recompute:  true,
	}, nil
}

func (s *Stream) bumpTimestamp() {
	s.timestamp++
	s.recompute = true
}

// AppendSegment adds a new segment at the end of the stream and returns its
// index.
func (s *Stream) AppendSegment(fileIndex int32, offset int64, size uint64, flags uint32) (int, error) {
	r, err := NewRange(fileIndex, offset, size, flags)
	if err != nil {
		return 0, err
	}
	s.segments = append(s.segments, r)
	s.dataSize += size
	s.bumpTimestamp()
	return len(s.segments) - 1, nil
}

// SetSegmentByIndex replaces the range at i. If a prior range existed, its
// size is subtracted from dataSize before the new size is added.
func (s *Stream) SetSegmentByIndex(i int, fileIndex int32, offset int64, size uint64, flags uint32) error {
	if i < 0 || i >= len(s.segments) {
		return fmt.Errorf("%w: segment index %d", ErrOutOfBounds, i)
	}
	r, err := NewRange(fileIndex, offset, size, flags)
	if err != nil {
		return err
	}
	s.dataSize -= s.segments[i].Size()
	s.segments[i] = r
	s.dataSize += size
	s.bumpTimestamp()
	return nil
}

// ResizeSegments grows or shrinks the segment list to exactly n entries,
// zero-valued when growing. It is a structure-only helper: callers are
// expected to populate new slots with SetSegmentByIndex afterward.
func (s *Stream) ResizeSegments(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative segment count %d", ErrInvalidArgument, n)
	}
	if n <= len(s.segments) {
		var dropped uint64
		for _, r := range s.segments[n:] {
			dropped += r.Size()
		}
		s.segments = s.segments[:n]
		s.dataSize -= dropped
	} else {
		s.segments = append(s.segments, make([]Range, n-len(s.segments))...)
	}
	s.bumpTimestamp()
	return nil
}

// EmptySegments removes all segments, resetting dataSize and the cursor.
func (s *Stream) EmptySegments() error {
	s.segments = nil
	s.dataSize = 0
	s.mappedSize = nil
	s.cursorOffset = 0
	s.cursorSegmentIndex = 0
	s.cursorSegmentDataOffset = 0
	s.bumpTimestamp()
	return nil
}

// ReverseSegments reverses the segment order in place.
func (s *Stream) ReverseSegments() error {
	for i, j := 0, len(s.segments)-1; i < j; i, j = i+1, j-1 {
		s.segments[i], s.segments[j] = s.segments[j], s.segments[i]
	}
	s.bumpTimestamp()
	return nil
}

// NumberOfSegments returns the current segment count.
func (s *Stream) NumberOfSegments() int { return len(s.segments) }

// SegmentByIndex returns a copy of the range stored at i.
func (s *Stream) SegmentByIndex(i int) (Range, error) {
	if i < 0 || i >= len(s.segments) {
		return Range{}, fmt.Errorf("%w: segment index %d", ErrOutOfBounds, i)
	}
	return s.segments[i], nil
}

// recomputeMappedRangesLocked walks segments in order, assigning each a
// (logical_offset, size) view, and clears the dirty bit (spec §4.1
// "Mapped-range recomputation").
func (s *Stream) recomputeMappedRangesLocked() {
	s.mappedRanges = make([]MappedRange, len(s.segments))
	var running uint64
	for i, seg := range s.segments {
		s.mappedRanges[i] = MappedRange{LogicalOffset: running, Size: seg.Size()}
		running += seg.Size()
	}
	s.recompute = false
}

func (s *Stream) ensureMappedRanges() {
	if s.recompute {
		s.recomputeMappedRangesLocked()
	}
}

// SegmentMappedRange returns the logical (offset, size) view of segment i,
// recomputing the mapped-range index first if stale.
func (s *Stream) SegmentMappedRange(i int) (MappedRange, error) {
	if i < 0 || i >= len(s.segments) {
		return MappedRange{}, fmt.Errorf("%w: segment index %d", ErrOutOfBounds, i)
	}
	s.ensureMappedRanges()
	return s.mappedRanges[i], nil
}

// effectiveSize is data_size, or the caller-set mapped_size if smaller.
func (s *Stream) effectiveSize() uint64 {
	if s.mappedSize != nil {
		return *s.mappedSize
	}
	return s.dataSize
}

// Size returns the stream's logical size (spec §4.1 get_size).
func (s *Stream) Size() uint64 { return s.effectiveSize() }

// Offset returns the stream's current cursor position.
func (s *Stream) Offset() int64 { return s.cursorOffset }

// MappedSize returns the caller-set truncated logical size, if any.
func (s *Stream) MappedSize() (uint64, bool) {
	if s.mappedSize == nil {
		return 0, false
	}
	return *s.mappedSize, true
}

// SetMappedSize restricts the logical view to n bytes, n <= data_size.
func (s *Stream) SetMappedSize(n uint64) error {
	if n > s.dataSize {
		return fmt.Errorf("%w: mapped size %d exceeds data size %d", ErrInvalidArgument, n, s.dataSize)
	}
	s.mappedSize = &n
	if uint64(s.cursorOffset) > n {
		s.cursorOffset = int64(n)
	}
	return nil
}

// SegmentIndexAtOffset resolves a logical offset to (segment_index,
// segment_data_offset) via binary search over the mapped-range index
// (spec §4.1).
func (s *Stream) SegmentIndexAtOffset(offset int64) (int, uint64, error) {
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, offset)
	}
	if uint64(offset) >= s.effectiveSize() {
		return 0, 0, fmt.Errorf("%w: offset %d >= size %d", ErrOutOfBounds, offset, s.effectiveSize())
	}
	s.ensureMappedRanges()

	lo, hi := 0, len(s.mappedRanges)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		mr := s.mappedRanges[mid]
		if uint64(offset) < mr.LogicalOffset {
			hi = mid - 1
			continue
		}
		if uint64(offset) >= mr.LogicalOffset+mr.Size {
			lo = mid + 1
			continue
		}
		return mid, uint64(offset) - mr.LogicalOffset, nil
	}
	return 0, 0, fmt.Errorf("%w: offset %d not covered by any segment", ErrOutOfBounds, offset)
}

// SeekOffset repositions the cursor per whence (io.SeekStart, io.SeekCurrent,
// io.SeekEnd). Seeking exactly to end-of-stream parks the cursor past the
// last segment without error (spec §4.1, §8.3).
func (s *Stream) SeekOffset(ioHandle interface{}, offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.cursorOffset + offset
	case io.SeekEnd:
		target = int64(s.effectiveSize()) + offset
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
	if target < 0 || uint64(target) > s.effectiveSize() {
		return 0, fmt.Errorf("%w: seek target %d", ErrOutOfBounds, target)
	}

	if uint64(target) == s.effectiveSize() {
		s.cursorOffset = target
		s.cursorSegmentIndex = len(s.segments)
		s.cursorSegmentDataOffset = 0
		return target, nil
	}

	idx, dataOffset, err := s.SegmentIndexAtOffset(target)
	if err != nil {
		return 0, err
	}
	if s.callbacks.SeekSegmentOffset != nil {
		seg := s.segments[idx]
		if _, err := s.callbacks.SeekSegmentOffset(s.dataHandle, ioHandle, s, idx, seg.FileIndex(), seg.Offset()+int64(dataOffset), whence); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	s.cursorOffset = target
	s.cursorSegmentIndex = idx
	s.cursorSegmentDataOffset = dataOffset
	return target, nil
}

// readSegmentCached fetches the full contents of segment idx, consulting
// cache first. Segments larger than utils.MaxSegmentChunk bypass the cache
// (spec §4.1 "Cached read": a single cached buffer is sized to
// min(size, MAX_SEGMENT_CHUNK), so larger segments cannot be cached whole)
// and are read into a pooled buffer instead, since nothing retains it past
// the caller's copy.
func (s *Stream) readSegmentCached(ioHandle interface{}, cache Cache, idx int) (data []byte, pooled bool, err error) {
	seg := s.segments[idx]
	cacheable := seg.Size() <= utils.MaxSegmentChunk

	if cacheable {
		if v, ok := cacheLookup(cache, seg.FileIndex(), seg.Offset(), s.timestamp); ok {
			if buf, ok := v.([]byte); ok && uint64(len(buf)) == seg.Size() {
				return buf, false, nil
			}
		}
	}

	var buf []byte
	if cacheable {
		buf = make([]byte, seg.Size())
	} else {
		buf = utils.GetBuffer(int(seg.Size()))
	}

	n, readErr := s.callbacks.ReadSegmentData(s.dataHandle, ioHandle, idx, buf, seg.Flags())
	if readErr != nil {
		if !cacheable {
			utils.ReleaseBuffer(buf)
		}
		return nil, false, fmt.Errorf("%w: segment %d: %v", ErrIO, idx, readErr)
	}
	if uint64(n) != seg.Size() {
		if !cacheable {
			utils.ReleaseBuffer(buf)
		}
		return nil, false, fmt.Errorf("%w: segment %d: short read (%d of %d bytes)", ErrIO, idx, n, seg.Size())
	}

	if cache != nil && cacheable {
		if err := cache.SetValueByIdentifier(seg.FileIndex(), seg.Offset(), s.timestamp, buf, nil); err != nil {
			return nil, false, fmt.Errorf("%w: caching segment %d: %v", ErrIO, idx, err)
		}
	}
	return buf, !cacheable, nil
}

// ReadBuffer reads from the current cursor, advancing it, stopping at
// end-of-stream. It returns the number of bytes actually read.
func (s *Stream) ReadBuffer(ioHandle interface{}, cache Cache, buf []byte) (int, error) {
	s.ensureMappedRanges()

	total := 0
	for total < len(buf) {
		if uint64(s.cursorOffset) >= s.effectiveSize() {
			break
		}
		if s.cursorSegmentIndex >= len(s.segments) {
			break
		}

		segData, pooled, err := s.readSegmentCached(ioHandle, cache, s.cursorSegmentIndex)
		if err != nil {
			return total, err
		}

		available := uint64(len(segData)) - s.cursorSegmentDataOffset
		remainingInStream := s.effectiveSize() - uint64(s.cursorOffset)
		if available > remainingInStream {
			available = remainingInStream
		}
		want := uint64(len(buf) - total)
		if want > available {
			want = available
		}

		copy(buf[total:], segData[s.cursorSegmentDataOffset:s.cursorSegmentDataOffset+want])
		if pooled {
			utils.ReleaseBuffer(segData)
		}
		total += int(want)
		s.cursorOffset += int64(want)
		s.cursorSegmentDataOffset += want

		if s.cursorSegmentDataOffset >= s.segments[s.cursorSegmentIndex].Size() {
			s.cursorSegmentIndex++
			s.cursorSegmentDataOffset = 0
		}
	}
	return total, nil
}

// ReadBufferAtOffset seeks to offset, then reads into buf.
func (s *Stream) ReadBufferAtOffset(ioHandle interface{}, cache Cache, buf []byte, offset int64) (int, error) {
	if _, err := s.SeekOffset(ioHandle, offset, io.SeekStart); err != nil {
		return 0, err
	}
	return s.ReadBuffer(ioHandle, cache, buf)
}

// WriteBuffer writes buf at the current cursor. Fails with ErrUnsupported
// if no WriteSegmentData callback was supplied.
func (s *Stream) WriteBuffer(ioHandle interface{}, buf []byte) (int, error) {
	if s.callbacks.WriteSegmentData == nil {
		return 0, fmt.Errorf("%w: no WriteSegmentData callback", ErrUnsupported)
	}
	s.ensureMappedRanges()

	total := 0
	for total < len(buf) {
		if s.cursorSegmentIndex >= len(s.segments) {
			break
		}
		seg := s.segments[s.cursorSegmentIndex]
		remaining := seg.Size() - s.cursorSegmentDataOffset
		want := uint64(len(buf) - total)
		if want > remaining {
			want = remaining
		}

		n, err := s.callbacks.WriteSegmentData(s.dataHandle, ioHandle, s, s.cursorSegmentIndex, seg.FileIndex(), buf[total:total+int(want)], seg.Flags())
		if err != nil {
			return total, fmt.Errorf("%w: segment %d: %v", ErrIO, s.cursorSegmentIndex, err)
		}
		if uint64(n) != want {
			return total, fmt.Errorf("%w: segment %d: short write (%d of %d bytes)", ErrIO, s.cursorSegmentIndex, n, want)
		}

		total += int(want)
		s.cursorOffset += int64(want)
		s.cursorSegmentDataOffset += want
		if s.cursorSegmentDataOffset >= seg.Size() {
			s.cursorSegmentIndex++
			s.cursorSegmentDataOffset = 0
		}
	}
	return total, nil
}

// WriteBufferAtOffset seeks to offset, then writes buf.
func (s *Stream) WriteBufferAtOffset(ioHandle interface{}, buf []byte, offset int64) (int, error) {
	if _, err := s.SeekOffset(ioHandle, offset, io.SeekStart); err != nil {
		return 0, err
	}
	return s.WriteBuffer(ioHandle, buf)
}

// Clone deep-copies the stream: every segment Range and, if the data handle
// is managed, a fresh clone of it via CloneDataHandle. This resolves the
// "TODO: clone data ranges" left unimplemented in the original source
// (spec §9, Open Question 3).
func (s *Stream) Clone() (*Stream, error) {
	clone := &Stream{
		callbacks: s.callbacks,
		flags:     s.flags,
		timestamp: 1,
		recompute: true,
	}
	clone.segments = make([]Range, len(s.segments))
	copy(clone.segments, s.segments)
	clone.dataSize = s.dataSize
	if s.mappedSize != nil {
		v := *s.mappedSize
		clone.mappedSize = &v
	}

	if s.flags&StreamDataHandleManaged != 0 {
		if s.callbacks.CloneDataHandle == nil {
			return nil, fmt.Errorf("%w: CloneDataHandle callback", ErrValueMissing)
		}
		h, err := s.callbacks.CloneDataHandle(s.dataHandle)
		if err != nil {
			return nil, fmt.Errorf("%w: cloning data handle: %v", ErrIO, err)
		}
		clone.dataHandle = h
	} else {
		clone.dataHandle = s.dataHandle
	}
	return clone, nil
}

// Close releases the Stream's segments and, if managed, its data handle.
func (s *Stream) Close() error {
	var firstErr error
	if s.flags&StreamDataHandleManaged != 0 && s.dataHandle != nil {
		if s.callbacks.FreeDataHandle == nil {
			firstErr = fmt.Errorf("%w: FreeDataHandle callback", ErrValueMissing)
		} else if err := s.callbacks.FreeDataHandle(s.dataHandle); err != nil {
			firstErr = fmt.Errorf("%w: freeing data handle: %v", ErrIO, err)
		}
	}
	s.dataHandle = nil
	s.segments = nil
	s.mappedRanges = nil
	return firstErr
}
