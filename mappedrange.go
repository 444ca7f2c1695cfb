package fdata

// MappedRange is the (logical_offset, size) view a segment occupies in a
// Stream's logical address space (spec §3.3). It is always derived from
// the Stream's segment list — callers never construct one directly.
type MappedRange struct {
	LogicalOffset uint64
	Size          uint64
}
