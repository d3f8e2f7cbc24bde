package internal

import (
	cid "github.com/ipfs/go-cid"
)

// Root is the persisted form of a grid: scalar dimensions first, then links
// to the tree chunks, then links to the leaf-data chunks.
type Root struct {
	N           uint64
	GridDepth   uint64
	GridHeight  uint64
	GridWidth   uint64
	FeatureSize uint64
	NumLeafs    uint64
	Trees       []cid.Cid
	Data        []cid.Cid
}

// Chunk is a snappy-compressed run of tree records or leaf values.
type Chunk struct {
	Length uint64
	Raw    []byte
}
