package fuzzer

import (
	"encoding/binary"
	"fmt"
)

var Debug = false

type opCode byte

const (
	opSet opCode = iota
	opSplit
	opSplitByValue
	opNorm
	opFlush
	opReload
	opDiff
	opMax
)

type op struct {
	code  opCode
	key   uint16
	value float32
}

func Parse(data []byte) (ops []op) {
	scratch := make([]byte, 5)

	for len(data) > 0 {
		for i := range scratch {
			scratch[i] = 0
		}
		n := copy(scratch, data)
		data = data[n:]

		code := opCode(scratch[0] % byte(opMax))
		k := binary.LittleEndian.Uint16(scratch[1:])
		v := float32(int16(binary.LittleEndian.Uint16(scratch[3:]))) / 256
		ops = append(ops, op{code, k, v})
	}
	return ops
}

func Fuzz(data []byte) int {
	if len(data) < 1 {
		return -1
	}

	g, err := newCheckedGrid()
	if err != nil {
		panic("failed to construct grid")
	}
	for _, op := range Parse(data) {
		switch op.code {
		case opSet:
			g.set(op.key, op.value)
		case opSplit:
			g.split(op.key)
		case opSplitByValue:
			g.splitByValue(op.value)
		case opNorm:
			g.norm()
		case opFlush:
			g.flush()
		case opReload:
			g.reload()
		case opDiff:
			g.diff()
		default:
			panic("impossible")
		}
	}
	if Debug {
		fmt.Printf("checking\n")
	}
	g.check()
	return 0
}
