package fdata

import "fmt"

// TreeNode flag bits (spec §6.2).
const (
	// NodeIsBranch marks a node holding sub-node ranges. Mutually
	// exclusive with NodeIsLeaf — a node is undetermined until its first
	// Append call fixes its kind.
	NodeIsBranch uint32 = 0x01

	// NodeIsLeaf marks a node holding leaf-value ranges.
	NodeIsLeaf uint32 = 0x02

	// NodeRecomputeMappedRanges marks a branch node's leaf-count
	// aggregates stale.
	NodeRecomputeMappedRanges uint32 = 0x04

	// NodeCalculateLeafCounts is an alias bit surfaced for spec fidelity;
	// it tracks the same dirty condition as NodeRecomputeMappedRanges but
	// named after the aggregate it guards (spec §4.2 "Lazy aggregation").
	NodeCalculateLeafCounts uint32 = 0x08
)

type nodeKind int

const (
	nodeKindUnset nodeKind = iota
	nodeKindBranch
	nodeKindLeaf
)

// leafWindow records, for one branch child, the local range of leaf-value
// indexes its subtree covers (relative to this node's own first leaf
// value). Built from each child's subtree leaf-value count via a prefix
// sum (spec §4.2, §4.3) once Tree has discovered that count by actually
// reading the child — see SetSubNodeLeafCounts.
type leafWindow struct {
	firstLeafValueIndex int
	numberOfLeafValues  int
}

// TreeNode is one node in an on-disk B-tree: either a branch holding
// sub-node ranges, or a leaf holding leaf-value ranges, never both (spec
// §3.5, §6.2). The core never parses node contents itself — Tree's
// ReadNode callback populates a TreeNode's ranges and value from
// caller-decoded bytes.
type TreeNode struct {
	level uint16
	kind  nodeKind
	flags uint32

	value        interface{}
	valueFree    KeyValueFree
	valueManaged bool

	subNodes   []TreeRange
	leafValues []TreeRange

	leafWindows        []leafWindow
	numberOfLeafValues int
	leafCountsDirty    bool
}

// NewTreeNode constructs an empty, kind-undetermined node at the given
// B-tree level (0 = root).
func NewTreeNode(level uint16) *TreeNode {
	return &TreeNode{level: level}
}

// Level returns the node's depth in the tree, root at 0.
func (n *TreeNode) Level() uint16 { return n.level }

// IsRoot reports whether this node is the tree's root node (spec §4.2
// is_root, level == 0).
func (n *TreeNode) IsRoot() bool { return n.level == 0 }

// IsBranch reports whether the node currently holds sub-node ranges.
func (n *TreeNode) IsBranch() bool { return n.kind == nodeKindBranch }

// IsLeaf reports whether the node currently holds leaf-value ranges.
func (n *TreeNode) IsLeaf() bool { return n.kind == nodeKindLeaf }

// Flags reports the node's current IS_BRANCH/IS_LEAF/dirty-bit state as a
// bitmask, for spec §6.2 fidelity.
func (n *TreeNode) Flags() uint32 {
	f := n.flags
	switch n.kind {
	case nodeKindBranch:
		f |= NodeIsBranch
	case nodeKindLeaf:
		f |= NodeIsLeaf
	}
	if n.leafCountsDirty {
		f |= NodeRecomputeMappedRanges | NodeCalculateLeafCounts
	}
	return f
}

// Value returns the node's own decoded key value (e.g. a branch's
// separator key), or nil if none was set.
func (n *TreeNode) Value() interface{} { return n.value }

// SetValue assigns the node's own key value, disposing any previously
// MANAGED value first.
func (n *TreeNode) SetValue(value interface{}, free KeyValueFree, managed bool) error {
	var firstErr error
	if n.valueManaged && n.value != nil && n.valueFree != nil {
		if err := n.valueFree(n.value); err != nil {
			firstErr = fmt.Errorf("%w: releasing previous node value: %v", ErrIO, err)
		}
	}
	if managed && free == nil && value != nil {
		return fmt.Errorf("%w: MANAGED node value requires a destructor", ErrInvalidArgument)
	}
	n.value = value
	n.valueFree = free
	n.valueManaged = managed
	return firstErr
}

// AppendSubNode appends a branch child range — just the child's own
// on-disk location, per spec §4.2's append_sub_node(…) signature. The
// child's subtree leaf count is not known here; it is discovered lazily by
// Tree actually reading the child (spec §4.3 "Sub-tree aggregation"), so
// appending a new child always invalidates this node's leaf-count
// aggregate. Fails with ErrUnsupported if the node already holds leaf
// values — a node's kind is fixed by whichever Append variant is called
// first (spec §3.5 branch/leaf exclusivity).
func (n *TreeNode) AppendSubNode(fileIndex int32, offset int64, size uint64, flags uint32) (int, error) {
	if n.kind == nodeKindLeaf {
		return 0, fmt.Errorf("%w: node already holds leaf values", ErrUnsupported)
	}
	tr, err := NewTreeRange(fileIndex, offset, size, flags)
	if err != nil {
		return 0, err
	}
	n.kind = nodeKindBranch
	n.subNodes = append(n.subNodes, tr)
	n.leafCountsDirty = true
	return len(n.subNodes) - 1, nil
}

// SetSubNodeLeafCounts records, for every branch child in order, the
// subtree leaf-value count discovered by actually reading it, and rebuilds
// the prefix-sum windows ChildIndexForLeafValue binary-searches. Called by
// Tree once its recursive read_sub_tree descent (spec §4.3) has visited
// every child; a TreeNode never discovers these counts itself, since doing
// so requires invoking the caller's ReadNode callback on each child.
func (n *TreeNode) SetSubNodeLeafCounts(counts []int) error {
	if len(counts) != len(n.subNodes) {
		return fmt.Errorf("%w: expected %d leaf counts, got %d", ErrInvalidArgument, len(n.subNodes), len(counts))
	}
	windows := make([]leafWindow, len(counts))
	running := 0
	for i, c := range counts {
		if c < 0 {
			return fmt.Errorf("%w: negative leaf value count %d", ErrInvalidArgument, c)
		}
		windows[i] = leafWindow{firstLeafValueIndex: running, numberOfLeafValues: c}
		running += c
	}
	n.leafWindows = windows
	n.numberOfLeafValues = running
	n.leafCountsDirty = false
	return nil
}

// AppendLeafValue appends a leaf-value range. Fails with ErrUnsupported if
// the node already holds sub-nodes.
func (n *TreeNode) AppendLeafValue(fileIndex int32, offset int64, size uint64, flags uint32) (int, error) {
	if n.kind == nodeKindBranch {
		return 0, fmt.Errorf("%w: node already holds sub-nodes", ErrUnsupported)
	}
	tr, err := NewTreeRange(fileIndex, offset, size, flags)
	if err != nil {
		return 0, err
	}
	n.kind = nodeKindLeaf
	n.leafValues = append(n.leafValues, tr)
	return len(n.leafValues) - 1, nil
}

// NumberOfSubNodes returns the number of branch children.
func (n *TreeNode) NumberOfSubNodes() int { return len(n.subNodes) }

// SubNodeByIndex returns a copy of the branch child range at i.
func (n *TreeNode) SubNodeByIndex(i int) (TreeRange, error) {
	if i < 0 || i >= len(n.subNodes) {
		return TreeRange{}, fmt.Errorf("%w: sub-node index %d", ErrOutOfBounds, i)
	}
	return n.subNodes[i], nil
}

// SetSubNodeKeyValue assigns a decoded key value to branch child i.
func (n *TreeNode) SetSubNodeKeyValue(i int, value interface{}, free KeyValueFree, managed bool) error {
	if i < 0 || i >= len(n.subNodes) {
		return fmt.Errorf("%w: sub-node index %d", ErrOutOfBounds, i)
	}
	return n.subNodes[i].SetKeyValue(value, free, managed)
}

// NumberOfLeafValuesDirectly returns the number of leaf values stored
// directly on this node — valid for leaf nodes only. For branch nodes, use
// Tree.GetNumberOfLeafValues, which aggregates across the whole subtree.
func (n *TreeNode) NumberOfLeafValuesDirectly() int { return len(n.leafValues) }

// LeafValueByIndex returns a copy of the leaf-value range at i, for a leaf
// node.
func (n *TreeNode) LeafValueByIndex(i int) (TreeRange, error) {
	if n.kind != nodeKindLeaf {
		return TreeRange{}, fmt.Errorf("%w: node is not a leaf", ErrUnsupported)
	}
	if i < 0 || i >= len(n.leafValues) {
		return TreeRange{}, fmt.Errorf("%w: leaf value index %d", ErrOutOfBounds, i)
	}
	return n.leafValues[i], nil
}

// SetLeafValueKeyValue assigns a decoded value to leaf slot i.
func (n *TreeNode) SetLeafValueKeyValue(i int, value interface{}, free KeyValueFree, managed bool) error {
	if i < 0 || i >= len(n.leafValues) {
		return fmt.Errorf("%w: leaf value index %d", ErrOutOfBounds, i)
	}
	return n.leafValues[i].SetKeyValue(value, free, managed)
}

// LeafCountsDirty reports whether the node's leaf-count aggregate still
// needs computing — i.e. Tree has not yet recursively read every child to
// discover its subtree's count (spec §4.2 CALCULATE_LEAF_COUNTS). Always
// false for a leaf node, whose count is immediate.
func (n *TreeNode) LeafCountsDirty() bool {
	return n.kind == nodeKindBranch && n.leafCountsDirty
}

// NumberOfLeafValues returns the node's leaf-count aggregate: for a branch
// node, the sum of every child's subtree count, as last recorded by
// SetSubNodeLeafCounts; for a leaf node, the number of leaf values stored
// directly. Callers must ensure a branch node's aggregate has been
// computed (LeafCountsDirty false) before relying on this value.
func (n *TreeNode) NumberOfLeafValues() int {
	if n.kind == nodeKindLeaf {
		return len(n.leafValues)
	}
	return n.numberOfLeafValues
}

// ChildIndexForLeafValue resolves a leaf-value index relative to this
// node's first leaf value to (childIndex, localIndexWithinChild) via
// binary search over the node's
// leaf windows (spec §4.2 "Binary-search descent"). The node's leaf-count
// aggregate must already be computed (see SetSubNodeLeafCounts); it is
// never computed as a side effect here, since that requires reading every
// child through the caller's ReadNode callback.
func (n *TreeNode) ChildIndexForLeafValue(leafIndex int) (int, int, error) {
	if n.kind != nodeKindBranch {
		return 0, 0, fmt.Errorf("%w: node is not a branch", ErrUnsupported)
	}
	if n.leafCountsDirty {
		return 0, 0, fmt.Errorf("%w: leaf-count aggregate not yet computed", ErrValueMissing)
	}
	if leafIndex < 0 || leafIndex >= n.numberOfLeafValues {
		return 0, 0, fmt.Errorf("%w: leaf value index %d", ErrOutOfBounds, leafIndex)
	}

	lo, hi := 0, len(n.leafWindows)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		w := n.leafWindows[mid]
		if leafIndex < w.firstLeafValueIndex {
			hi = mid - 1
			continue
		}
		if leafIndex >= w.firstLeafValueIndex+w.numberOfLeafValues {
			lo = mid + 1
			continue
		}
		return mid, leafIndex - w.firstLeafValueIndex, nil
	}
	return 0, 0, fmt.Errorf("%w: leaf value index %d not covered by any child window", ErrOutOfBounds, leafIndex)
}

// Release disposes the node's own value and every sub-node/leaf-value
// TreeRange's MANAGED key value.
func (n *TreeNode) Release() error {
	var firstErr error
	if n.valueManaged && n.value != nil && n.valueFree != nil {
		if err := n.valueFree(n.value); err != nil {
			firstErr = fmt.Errorf("%w: releasing node value: %v", ErrIO, err)
		}
	}
	n.value, n.valueFree, n.valueManaged = nil, nil, false

	for i := range n.subNodes {
		if err := n.subNodes[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := range n.leafValues {
		if err := n.leafValues[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
