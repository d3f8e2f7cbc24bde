package main

import (
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/octgrid/go-octgrid/internal"
)

func main() {
	if err := cbg.WriteTupleEncodersToFile("internal/cbor_gen.go", "internal", internal.Root{}, internal.Chunk{}); err != nil {
		panic(err)
	}
}
