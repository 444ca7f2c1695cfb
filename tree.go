package fdata

import "fmt"

// ReadNode decodes one on-disk node's header and child/leaf ranges into
// node. For a branch node, the callback must call node.AppendSubNode for
// each child, supplying only that child's own (file, offset, size, flags)
// — a child's subtree leaf count is not on-disk metadata of the parent;
// Tree discovers it lazily by reading the child itself (spec §4.3
// "Sub-tree aggregation"). For a leaf node, it must call
// node.AppendLeafValue for each leaf-value range.
type ReadNode func(handle interface{}, ioHandle interface{}, tree *Tree, nodeRange TreeRange, node *TreeNode) error

// WriteNode encodes node back to storage. Optional.
type WriteNode func(handle interface{}, ioHandle interface{}, tree *Tree, nodeRange TreeRange, node *TreeNode) error

// ReadLeafValue materializes the value addressed by one leaf-value range,
// a step kept distinct from ReadNode because a leaf range's bytes are
// opaque to the node decoder and only meaningful to the caller's value
// type (spec §9, Open Question 1).
type ReadLeafValue func(handle interface{}, ioHandle interface{}, tree *Tree, leafRange TreeRange, leafIndex int) (interface{}, error)

// CalculateCacheEntryIndex computes a caller-preferred cache slot for
// (fileIndex, offset) out of numberOfCacheEntries. The result is advisory
// only: Tree always calls through to Cache.GetValueByIdentifier /
// SetValueByIdentifier keyed on (file_index, offset, timestamp), never on
// the slot itself, since the Cache interface (spec §6.3) has no slot
// parameter. Tree still invokes this callback on every node-cache lookup
// when both the callback and a cache are present, so a caller that wants
// deterministic slot assignment for its own bookkeeping observes every
// node lookup. Leaf-value lookups do not invoke it.
type CalculateCacheEntryIndex func(fileIndex int32, offset int64, numberOfCacheEntries int) int

// TreeCallbacks is the capability set a Tree's caller supplies (spec
// §4.2, §6.1). ReadNode and ReadLeafValue are mandatory.
type TreeCallbacks struct {
	FreeDataHandle           FreeDataHandle
	CloneDataHandle          CloneDataHandle
	ReadNode                 ReadNode
	WriteNode                WriteNode
	ReadLeafValue            ReadLeafValue
	CalculateCacheEntryIndex CalculateCacheEntryIndex
}

// Tree is a lazy traversal engine over an on-disk B-tree: nodes are read
// one at a time, on demand, via ReadNode, and leaf values are materialized
// one at a time via ReadLeafValue (spec §3.5, §4.2). The core never
// decodes node bytes itself.
type Tree struct {
	dataHandle interface{}
	callbacks  TreeCallbacks
	flags      uint32
	timestamp  uint64

	root    TreeRange
	rootSet bool

	cache                Cache
	numberOfCacheEntries int
}

// NewTree constructs a Tree over dataHandle. ReadNode and ReadLeafValue are
// required. cache may be nil, in which case every node and leaf-value read
// goes straight to the callbacks. numberOfCacheEntries is advisory,
// forwarded verbatim to CalculateCacheEntryIndex.
func NewTree(dataHandle interface{}, callbacks TreeCallbacks, cache Cache, numberOfCacheEntries int, flags uint32) (*Tree, error) {
	if callbacks.ReadNode == nil {
		return nil, fmt.Errorf("%w: ReadNode callback", ErrValueMissing)
	}
	if callbacks.ReadLeafValue == nil {
		return nil, fmt.Errorf("%w: ReadLeafValue callback", ErrValueMissing)
	}
	return &Tree{
		dataHandle:           dataHandle,
		callbacks:            callbacks,
		flags:                flags,
		timestamp:            1,
		cache:                cache,
		numberOfCacheEntries: numberOfCacheEntries,
	}, nil
}

func (t *Tree) bumpTimestamp() { t.timestamp++ }

// SetRootNode assigns the range of the tree's root node, replacing any
// prior root.
func (t *Tree) SetRootNode(fileIndex int32, offset int64, size uint64, flags uint32) error {
	tr, err := NewTreeRange(fileIndex, offset, size, flags)
	if err != nil {
		return err
	}
	t.root = tr
	t.rootSet = true
	t.bumpTimestamp()
	return nil
}

// GetRootNode returns the root node's range.
func (t *Tree) GetRootNode() (TreeRange, error) {
	if !t.rootSet {
		return TreeRange{}, fmt.Errorf("%w: root node", ErrValueMissing)
	}
	return t.root, nil
}

// readNode fetches the node addressed by r, consulting cache first. The
// cache key is always (file_index, offset, timestamp); CalculateCacheEntryIndex,
// if supplied and a cache is set, is still invoked so a caller relying on it for its own
// bookkeeping observes every lookup, but its result does not gate the
// Cache call (spec §9 CalculateCacheEntryIndex resolution).
func (t *Tree) readNode(ioHandle interface{}, r TreeRange, level uint16) (*TreeNode, error) {
	if t.callbacks.CalculateCacheEntryIndex != nil && t.cache != nil {
		_ = t.callbacks.CalculateCacheEntryIndex(r.FileIndex(), r.Offset(), t.numberOfCacheEntries)
	}

	if v, ok := cacheLookup(t.cache, r.FileIndex(), r.Offset(), t.timestamp); ok {
		if node, ok := v.(*TreeNode); ok {
			return node, nil
		}
	}

	node := NewTreeNode(level)
	if err := t.callbacks.ReadNode(t.dataHandle, ioHandle, t, r, node); err != nil {
		return nil, fmt.Errorf("%w: reading node at offset %d: %v", ErrIO, r.Offset(), err)
	}

	if t.cache != nil {
		if err := t.cache.SetValueByIdentifier(r.FileIndex(), r.Offset(), t.timestamp, node, nil); err != nil {
			return nil, fmt.Errorf("%w: caching node at offset %d: %v", ErrIO, r.Offset(), err)
		}
	}
	return node, nil
}

// descendToLeaf walks from the root to the leaf node holding global
// leaf-value index leafIndex, returning that leaf node and the index
// local to it (spec §4.2 "Binary-search descent").
func (t *Tree) descendToLeaf(ioHandle interface{}, leafIndex int) (*TreeNode, int, error) {
	if !t.rootSet {
		return nil, 0, fmt.Errorf("%w: root node", ErrValueMissing)
	}

	nodeRange := t.root
	level := uint16(0)
	for {
		node, err := t.readNode(ioHandle, nodeRange, level)
		if err != nil {
			return nil, 0, err
		}
		if node.IsLeaf() {
			if leafIndex < 0 || leafIndex >= node.NumberOfLeafValuesDirectly() {
				return nil, 0, fmt.Errorf("%w: leaf value index %d", ErrOutOfBounds, leafIndex)
			}
			return node, leafIndex, nil
		}
		if !node.IsBranch() {
			return nil, 0, fmt.Errorf("%w: node at offset %d is empty", ErrValueMissing, nodeRange.Offset())
		}

		if _, err := t.aggregateLeafCounts(ioHandle, node, level); err != nil {
			return nil, 0, err
		}

		childIdx, localIdx, err := node.ChildIndexForLeafValue(leafIndex)
		if err != nil {
			return nil, 0, err
		}
		nodeRange, err = node.SubNodeByIndex(childIdx)
		if err != nil {
			return nil, 0, err
		}
		leafIndex = localIdx
		level++
	}
}

// aggregateLeafCounts performs spec §4.3's "Sub-tree aggregation"
// read_sub_tree algorithm: a leaf node's own count is immediate, but a
// branch node's count is not on-disk metadata of the branch itself — it is
// discovered only by actually reading every child (recursively, since a
// child may itself be a branch), exactly as the original's
// libfdata_btree_read_sub_tree does. Each branch node's aggregate is
// memoized: once computed, its CALCULATE_LEAF_COUNTS bit is clear and
// subsequent calls return the cached total without re-reading children
// (spec §4.2 "Lazy aggregation").
func (t *Tree) aggregateLeafCounts(ioHandle interface{}, node *TreeNode, level uint16) (int, error) {
	if node.IsLeaf() {
		return node.NumberOfLeafValuesDirectly(), nil
	}
	if !node.IsBranch() {
		return 0, nil
	}
	if !node.LeafCountsDirty() {
		return node.NumberOfLeafValues(), nil
	}

	counts := make([]int, node.NumberOfSubNodes())
	for i := 0; i < node.NumberOfSubNodes(); i++ {
		childRange, err := node.SubNodeByIndex(i)
		if err != nil {
			return 0, err
		}
		childNode, err := t.readNode(ioHandle, childRange, level+1)
		if err != nil {
			return 0, err
		}
		count, err := t.aggregateLeafCounts(ioHandle, childNode, level+1)
		if err != nil {
			return 0, err
		}
		counts[i] = count
	}
	if err := node.SetSubNodeLeafCounts(counts); err != nil {
		return 0, err
	}
	return node.NumberOfLeafValues(), nil
}

// GetNumberOfLeafValues returns the total number of leaf values in the
// tree. For a branch root this triggers the full recursive read_sub_tree
// descent (spec §4.3); repeated calls reuse the memoized aggregate while
// the root node is still in the cache. A Tree without a cache re-reads
// and re-aggregates on every call.
func (t *Tree) GetNumberOfLeafValues(ioHandle interface{}) (int, error) {
	if !t.rootSet {
		return 0, fmt.Errorf("%w: root node", ErrValueMissing)
	}
	root, err := t.readNode(ioHandle, t.root, 0)
	if err != nil {
		return 0, err
	}
	return t.aggregateLeafCounts(ioHandle, root, 0)
}

// GetLeafValueByIndex descends to the leaf-value range at the given global
// index and materializes it via ReadLeafValue.
func (t *Tree) GetLeafValueByIndex(ioHandle interface{}, leafIndex int) (interface{}, error) {
	leafNode, localIdx, err := t.descendToLeaf(ioHandle, leafIndex)
	if err != nil {
		return nil, err
	}
	leafRange, err := leafNode.LeafValueByIndex(localIdx)
	if err != nil {
		return nil, err
	}

	if v, ok := cacheLookup(t.cache, leafRange.FileIndex(), leafRange.Offset(), t.timestamp); ok {
		return v, nil
	}

	value, err := t.callbacks.ReadLeafValue(t.dataHandle, ioHandle, t, leafRange, leafIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: reading leaf value %d: %v", ErrIO, leafIndex, err)
	}
	if t.cache != nil {
		if err := t.cache.SetValueByIdentifier(leafRange.FileIndex(), leafRange.Offset(), t.timestamp, value, nil); err != nil {
			return nil, fmt.Errorf("%w: caching leaf value %d: %v", ErrIO, leafIndex, err)
		}
	}
	return value, nil
}

// Clone deep-copies the tree's root range and, if the data handle is
// managed, a fresh clone of it via CloneDataHandle (spec §9, Open Question
// 4). Node and leaf-value caches are not copied — the clone starts with a
// fresh timestamp and populates its own cache entries on demand.
func (t *Tree) Clone() (*Tree, error) {
	clone := &Tree{
		callbacks:            t.callbacks,
		flags:                t.flags,
		timestamp:            1,
		root:                 t.root,
		rootSet:              t.rootSet,
		cache:                t.cache,
		numberOfCacheEntries: t.numberOfCacheEntries,
	}

	if t.flags&StreamDataHandleManaged != 0 {
		if t.callbacks.CloneDataHandle == nil {
			return nil, fmt.Errorf("%w: CloneDataHandle callback", ErrValueMissing)
		}
		h, err := t.callbacks.CloneDataHandle(t.dataHandle)
		if err != nil {
			return nil, fmt.Errorf("%w: cloning data handle: %v", ErrIO, err)
		}
		clone.dataHandle = h
	} else {
		clone.dataHandle = t.dataHandle
	}
	return clone, nil
}

// Close releases the tree's data handle, if managed.
func (t *Tree) Close() error {
	if t.flags&StreamDataHandleManaged != 0 && t.dataHandle != nil {
		if t.callbacks.FreeDataHandle == nil {
			return fmt.Errorf("%w: FreeDataHandle callback", ErrValueMissing)
		}
		if err := t.callbacks.FreeDataHandle(t.dataHandle); err != nil {
			return fmt.Errorf("%w: freeing data handle: %v", ErrIO, err)
		}
	}
	t.dataHandle = nil
	return nil
}
