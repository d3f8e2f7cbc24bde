package octgrid

import (
	"encoding/binary"
	"math"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("octgrid")

const treeBytes = TreeWords * 4

func encodeTrees(trees []Tree) []byte {
	out := make([]byte, len(trees)*treeBytes)
	for i := range trees {
		for w := 0; w < TreeWords; w++ {
			binary.LittleEndian.PutUint32(out[i*treeBytes+w*4:], trees[i][w])
		}
	}
	return out
}

func decodeTrees(dst []Tree, raw []byte) {
	for i := range dst {
		for w := 0; w < TreeWords; w++ {
			dst[i][w] = binary.LittleEndian.Uint32(raw[i*treeBytes+w*4:])
		}
	}
}

func encodeFloats(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeFloats(dst []float32, raw []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
}
