package host

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"capstore/core/types"
)

// Phase separates the address spaces of the stages of one deploy.
type Phase uint8

const (
	PhaseSystem Phase = iota
	PhasePayment
	PhaseSession
	PhaseFinalize
)

// AddressGenerator is the only source of fresh addresses. Addresses are
// blake3(seed || phase || counter), so they are deterministic per deploy and
// never repeat within one generator.
//
// AddressGenerator is not safe for concurrent use.
type AddressGenerator struct {
	seed    [32]byte
	phase   Phase
	counter uint64
}

func NewAddressGenerator(seed [32]byte, phase Phase) *AddressGenerator {
	return &AddressGenerator{seed: seed, phase: phase}
}

// Next returns a fresh address.
func (g *AddressGenerator) Next() types.Address {
	var buf [32 + 1 + 8]byte
	copy(buf[:32], g.seed[:])
	buf[32] = byte(g.phase)
	binary.BigEndian.PutUint64(buf[33:], g.counter)
	g.counter++
	return blake3.Sum256(buf[:])
}

// Issued is the number of addresses handed out so far.
func (g *AddressGenerator) Issued() uint64 { return g.counter }
