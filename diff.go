package octgrid

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"golang.org/x/xerrors"
)

// ChangeType denotes type of change in Change
type ChangeType int

// These constants define the changes between two tree structures.
const (
	Split ChangeType = iota
	Merge
)

func (ct ChangeType) String() string {
	switch ct {
	case Split:
		return "split"
	case Merge:
		return "merge"
	}
	return "unknown"
}

func (ct ChangeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(ct.String())
}

// Change represents one split flag that differs between two grids: Split
// when cur sets a bit prev does not, Merge for the opposite.
type Change struct {
	Type  ChangeType
	Block int
	Bit   int
}

func (ch Change) String() string {
	b, _ := json.Marshal(ch)
	return string(b)
}

// Diff loads two persisted grids and returns the structural changes that
// turn prev into cur.
func Diff(ctx context.Context, prevBs, curBs cbor.IpldStore, prev, cur cid.Cid, opts ...Option) ([]*Change, error) {
	prevGrid, err := LoadGrid(ctx, prevBs, prev, opts...)
	if err != nil {
		return nil, xerrors.Errorf("loading previous root: %w", err)
	}
	curGrid, err := LoadGrid(ctx, curBs, cur, opts...)
	if err != nil {
		return nil, xerrors.Errorf("loading current root: %w", err)
	}
	return DiffTrees(prevGrid, curGrid, opts...)
}

// DiffTrees returns the split and merge changes that turn the trees of prev
// into those of cur, ordered by block and bit index. Both grids need the same
// block count.
func DiffTrees(prev, cur *Grid, opts ...Option) ([]*Change, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	nBlocks := prev.NumBlocks()
	if nBlocks != cur.NumBlocks() {
		return nil, xerrors.Errorf("diff trees: %s vs %s: %w", prev, cur, ErrShapeMismatch)
	}

	start := time.Now()
	parts := make([][]*Change, numChunks(nBlocks, cfg.workers))
	forEachBlock(nBlocks, cfg.workers, func(chunk, gridIdx int) {
		parts[chunk] = diffTree(parts[chunk], gridIdx, &prev.trees[gridIdx], &cur.trees[gridIdx])
	})

	var changes []*Change
	for _, p := range parts {
		changes = append(changes, p...)
	}
	log.Debugw("diff trees", "duration", time.Since(start), "blocks", nBlocks, "changes", len(changes))
	return changes, nil
}

func diffTree(changes []*Change, gridIdx int, prev, cur *Tree) []*Change {
	a, b := prev.masked(), cur.masked()
	if a == b {
		return changes
	}
	for bit := 0; bit < TreeBits; bit++ {
		p, c := a.IsSet(bit), b.IsSet(bit)
		switch {
		case c && !p:
			changes = append(changes, &Change{Type: Split, Block: gridIdx, Bit: bit})
		case p && !c:
			changes = append(changes, &Change{Type: Merge, Block: gridIdx, Bit: bit})
		}
	}
	return changes
}
