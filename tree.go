package octgrid

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// BlockWidth is the edge length, in voxels, of the cube covered by one shallow octree.
	BlockWidth = 8
	// BlockVoxels is the number of full-resolution voxels inside one block.
	BlockVoxels = BlockWidth * BlockWidth * BlockWidth
	// MaxDepth is the depth of the finest cells of a shallow octree.
	MaxDepth = 3

	// TreeBits is the number of split flags a tree carries: root + 8 + 64.
	TreeBits = 1 + 8 + 64
	// TreeWords is the number of 32-bit words a tree record occupies.
	TreeWords = 4

	firstL1Bit = 1
	firstL2Bit = 9
	firstL3Bit = TreeBits
)

// Tree holds the split flags of a single shallow octree. Bit 0 splits the
// 8x8x8 block, bits 1..8 split its 4x4x4 children and bits 9..72 split the
// 2x2x2 grandchildren into single voxels. Bits at indices 73 and above have no
// meaning; bit indices >= 73 still name the single-voxel leaves.
type Tree [TreeWords]uint32

var fullTree = func() Tree {
	var t Tree
	for i := 0; i < TreeBits; i++ {
		t.Set(i)
	}
	return t
}()

// IsSet reports whether the node with the given bit index is split.
func (t *Tree) IsSet(bitIdx int) bool {
	return t[bitIdx/32]&(1<<uint(bitIdx%32)) != 0
}

// Set marks the node with the given bit index as split.
func (t *Tree) Set(bitIdx int) {
	t[bitIdx/32] |= 1 << uint(bitIdx%32)
}

// Unset marks the node with the given bit index as a leaf.
func (t *Tree) Unset(bitIdx int) {
	t[bitIdx/32] &^= 1 << uint(bitIdx%32)
}

// Clear removes every split.
func (t *Tree) Clear() {
	*t = Tree{}
}

// SetFull splits every node down to single voxels.
func (t *Tree) SetFull() {
	*t = fullTree
}

// Equal compares the meaningful bits of two trees.
func (t *Tree) Equal(o *Tree) bool {
	a, b := t.masked(), o.masked()
	return a == b
}

func (t *Tree) masked() Tree {
	m := *t
	m[TreeBits/32] &= 1<<uint(TreeBits%32) - 1
	for i := TreeBits/32 + 1; i < TreeWords; i++ {
		m[i] = 0
	}
	return m
}

// NumSplits is the number of split nodes that are reachable from the root.
func (t *Tree) NumSplits() int {
	if !t.IsSet(0) {
		return 0
	}
	m := t.masked()
	n := 0
	for _, w := range m {
		n += bits.OnesCount32(w)
	}
	// orphaned level-2 bits are not reachable
	for b := firstL1Bit; b < firstL2Bit; b++ {
		if !t.IsSet(b) {
			c := ChildBitIndex(b)
			for k := 0; k < 8; k++ {
				if t.IsSet(c + k) {
					n--
				}
			}
		}
	}
	return n
}

// NumLeafs counts the leaves the tree encodes by walking its levels.
func (t *Tree) NumLeafs() int {
	if !t.IsSet(0) {
		return 1
	}
	n := 0
	for b1 := firstL1Bit; b1 < firstL2Bit; b1++ {
		if !t.IsSet(b1) {
			n++
			continue
		}
		c := ChildBitIndex(b1)
		for b2 := c; b2 < c+8; b2++ {
			if t.IsSet(b2) {
				n += 8
			} else {
				n++
			}
		}
	}
	return n
}

// Orphans returns the bit indices of splits whose parent is not split.
func (t *Tree) Orphans() []int {
	var out []int
	for b := firstL1Bit; b < TreeBits; b++ {
		if t.IsSet(b) && !t.IsSet(ParentBitIndex(b)) {
			out = append(out, b)
		}
	}
	return out
}

// exists reports whether a node is reachable, i.e. all its ancestors are split.
func (t *Tree) exists(bitIdx int) bool {
	for bitIdx > 0 {
		bitIdx = ParentBitIndex(bitIdx)
		if !t.IsSet(bitIdx) {
			return false
		}
	}
	return true
}

// IsLeaf reports whether the node with the given bit index is a leaf of the tree.
func (t *Tree) IsLeaf(bitIdx int) bool {
	if !t.exists(bitIdx) {
		return false
	}
	return bitIdx >= firstL3Bit || !t.IsSet(bitIdx)
}

// BitIndex descends the tree to the leaf covering the voxel at local
// position (bd, bh, bw), 0 <= bd, bh, bw < 8, and returns its bit index.
func (t *Tree) BitIndex(bd, bh, bw int) int {
	if !t.IsSet(0) {
		return 0
	}
	b1 := firstL1Bit + childOffset(bd/4, bh/4, bw/4)
	if !t.IsSet(b1) {
		return b1
	}
	b2 := ChildBitIndex(b1) + childOffset(bd/2%2, bh/2%2, bw/2%2)
	if !t.IsSet(b2) {
		return b2
	}
	return ChildBitIndex(b2) + childOffset(bd%2, bh%2, bw%2)
}

// DataIndex returns the offset of the leaf with the given bit index inside
// the block's leaf-data range, scaled by featureSize. Leaves are numbered in
// ascending bit-index order, so the offset is the number of leaves with a
// smaller bit index, which depends on which ancestors are split.
func (t *Tree) DataIndex(bitIdx, featureSize int) int {
	if bitIdx == 0 {
		return 0
	}
	idx := 0
	for b := firstL1Bit; b < firstL2Bit && b < bitIdx; b++ {
		if !t.IsSet(b) {
			idx++
		}
	}
	if bitIdx < firstL2Bit {
		return idx * featureSize
	}
	for b := firstL2Bit; b < firstL3Bit && b < bitIdx; b++ {
		if t.IsSet(ParentBitIndex(b)) && !t.IsSet(b) {
			idx++
		}
	}
	if bitIdx < firstL3Bit {
		return idx * featureSize
	}
	for b := firstL2Bit; b < firstL3Bit; b++ {
		if !t.IsSet(ParentBitIndex(b)) || !t.IsSet(b) {
			continue
		}
		c := ChildBitIndex(b)
		if c >= bitIdx {
			break
		}
		idx += min(8, bitIdx-c)
	}
	return idx * featureSize
}

// BitIndexFromDataIndex is the inverse of DataIndex for featureSize 1. It
// returns -1 if the tree has no leaf at that position.
func (t *Tree) BitIndexFromDataIndex(dataIdx int) int {
	found := -1
	t.forEachLeaf(func(bitIdx, idx int) bool {
		if idx == dataIdx {
			found = bitIdx
			return false
		}
		return true
	})
	return found
}

// ForEachLeaf calls fn for every leaf in data order with its bit index and
// its local leaf index.
func (t *Tree) ForEachLeaf(fn func(bitIdx, leafIdx int)) {
	t.forEachLeaf(func(bitIdx, idx int) bool {
		fn(bitIdx, idx)
		return true
	})
}

func (t *Tree) forEachLeaf(fn func(bitIdx, idx int) bool) {
	if !t.IsSet(0) {
		fn(0, 0)
		return
	}
	idx := 0
	for b := firstL1Bit; b < firstL2Bit; b++ {
		if !t.IsSet(b) {
			if !fn(b, idx) {
				return
			}
			idx++
		}
	}
	for b := firstL2Bit; b < firstL3Bit; b++ {
		if t.IsSet(ParentBitIndex(b)) && !t.IsSet(b) {
			if !fn(b, idx) {
				return
			}
			idx++
		}
	}
	for b := firstL2Bit; b < firstL3Bit; b++ {
		if !t.IsSet(ParentBitIndex(b)) || !t.IsSet(b) {
			continue
		}
		c := ChildBitIndex(b)
		for k := 0; k < 8; k++ {
			if !fn(c+k, idx) {
				return
			}
			idx++
		}
	}
}

// String renders the meaningful bits, root first.
func (t *Tree) String() string {
	var sb strings.Builder
	sb.Grow(TreeBits)
	for b := 0; b < TreeBits; b++ {
		if t.IsSet(b) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// GoString implements fmt.GoStringer.
func (t Tree) GoString() string {
	return fmt.Sprintf("octgrid.Tree{%#08x, %#08x, %#08x, %#08x}", t[0], t[1], t[2], t[3])
}

func childOffset(d, h, w int) int {
	return d*4 + h*2 + w
}

// ChildBitIndex returns the bit index of the first of the eight children of
// a node. Children are contiguous and ordered depth, height, width.
func ChildBitIndex(bitIdx int) int {
	return 8*bitIdx + 1
}

// ParentBitIndex returns the bit index of a node's parent. The root has no
// parent and maps to itself.
func ParentBitIndex(bitIdx int) int {
	if bitIdx == 0 {
		return 0
	}
	return (bitIdx - 1) / 8
}

// DepthFromBitIndex returns the depth of the node with the given bit index.
func DepthFromBitIndex(bitIdx int) int {
	switch {
	case bitIdx == 0:
		return 0
	case bitIdx < firstL2Bit:
		return 1
	case bitIdx < firstL3Bit:
		return 2
	default:
		return 3
	}
}

// WidthFromDepth returns the edge length of the cube covered by a node at depth.
func WidthFromDepth(depth int) int {
	return BlockWidth >> uint(depth)
}

// VoxelCount is the number of full-resolution voxels a node at depth covers.
func VoxelCount(depth int) int {
	w := WidthFromDepth(depth)
	return w * w * w
}

// CellOffset returns the local corner (bd, bh, bw) of the node with the
// given bit index within its block.
func CellOffset(bitIdx int) (bd, bh, bw int) {
	for bitIdx > 0 {
		w := WidthFromDepth(DepthFromBitIndex(bitIdx))
		off := (bitIdx - 1) % 8
		bd += (off >> 2 & 1) * w
		bh += (off >> 1 & 1) * w
		bw += (off & 1) * w
		bitIdx = ParentBitIndex(bitIdx)
	}
	return bd, bh, bw
}
