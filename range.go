package fdata

import (
	"fmt"

	"github.com/scigolib/fdata/internal/utils"
)

// Range describes one physical byte range — a (file_index, offset, size,
// flags) tuple — contributing a contiguous slice to a logical Stream.
// FileIndex of -1 means "unspecified/sparse"; a negative Offset means "not
// yet set" (spec §3.1).
type Range struct {
	fileIndex int32
	offset    int64
	size      uint64
	flags     uint32
}

// NewRange builds a Range, validating the offset+size invariant.
func NewRange(fileIndex int32, offset int64, size uint64, flags uint32) (Range, error) {
	r := Range{fileIndex: fileIndex, offset: offset, size: size, flags: flags}
	if err := r.validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

func (r Range) validate() error {
	if r.offset >= 0 {
		if err := utils.CheckRangeOverflow(r.offset, r.size); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}
	return nil
}

// FileIndex returns the backing file this range belongs to.
func (r Range) FileIndex() int32 { return r.fileIndex }

// Offset returns the physical byte offset, or a negative value if unset.
func (r Range) Offset() int64 { return r.offset }

// Size returns the range's byte length.
func (r Range) Size() uint64 { return r.size }

// Flags returns the opaque, passthrough flag bits (sparse, compressed,
// encrypted, tainted, end-of-storage markers — spec §3.1).
func (r Range) Flags() uint32 { return r.flags }

// Set replaces the tuple in place, re-validating the offset+size invariant.
func (r *Range) Set(fileIndex int32, offset int64, size uint64, flags uint32) error {
	next := Range{fileIndex: fileIndex, offset: offset, size: size, flags: flags}
	if err := next.validate(); err != nil {
		return err
	}
	*r = next
	return nil
}

// KeyValueFree disposes a caller-owned key value. Invoked only when the
// owning TreeRange holds it MANAGED.
type KeyValueFree func(value interface{}) error

// TreeRange is the tree-flavored Range (spec §3.2): a Range plus an
// optional owned-or-borrowed key value. When managed, the TreeRange is
// responsible for invoking keyValueFree on release or reassignment.
type TreeRange struct {
	Range

	keyValue     interface{}
	keyValueFree KeyValueFree
	managed      bool
}

// NewTreeRange builds a TreeRange with no key value set.
func NewTreeRange(fileIndex int32, offset int64, size uint64, flags uint32) (TreeRange, error) {
	r, err := NewRange(fileIndex, offset, size, flags)
	if err != nil {
		return TreeRange{}, err
	}
	return TreeRange{Range: r}, nil
}

// KeyValue returns the range's associated key, or nil if none is set.
func (r *TreeRange) KeyValue() interface{} { return r.keyValue }

// SetKeyValue assigns a new key value. A MANAGED value without a destructor
// is rejected before anything else happens, leaving the range unchanged.
// Otherwise, if the range currently owns a MANAGED key value, its
// destructor is invoked first — exactly once — and the new value is stored
// afterward even if disposing the old one errors, to match the
// collect-first-error-but-keep-going destructive-path semantics of spec §7.
func (r *TreeRange) SetKeyValue(value interface{}, free KeyValueFree, managed bool) error {
	if managed && free == nil && value != nil {
		return fmt.Errorf("%w: MANAGED key value requires a destructor", ErrInvalidArgument)
	}
	var firstErr error
	if r.managed && r.keyValue != nil && r.keyValueFree != nil {
		if err := r.keyValueFree(r.keyValue); err != nil {
			firstErr = fmt.Errorf("%w: releasing previous key value: %v", ErrIO, err)
		}
	}
	r.keyValue = value
	r.keyValueFree = free
	r.managed = managed
	return firstErr
}

// Release disposes of a MANAGED key value, if any, and clears the range's
// reference to it. Safe to call more than once.
func (r *TreeRange) Release() error {
	if !r.managed || r.keyValue == nil || r.keyValueFree == nil {
		r.keyValue = nil
		r.managed = false
		return nil
	}
	err := r.keyValueFree(r.keyValue)
	r.keyValue = nil
	r.managed = false
	if err != nil {
		return fmt.Errorf("%w: releasing key value: %v", ErrIO, err)
	}
	return nil
}
