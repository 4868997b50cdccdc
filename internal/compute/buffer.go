package compute

import (
	"math"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// Access is the state a buffer is transitioned into before a pass touches it.
type Access uint32

const (
	AccessUnknown Access = iota
	AccessSRV
	AccessUAV
	AccessIndirectArgs
	AccessCopySrc
)

func (a Access) String() string {
	switch a {
	case AccessSRV:
		return "SRV"
	case AccessUAV:
		return "UAV"
	case AccessIndirectArgs:
		return "IndirectArgs"
	case AccessCopySrc:
		return "CopySrc"
	default:
		return "Unknown"
	}
}

// Buffer is a structured buffer of 32-bit words. Floats are stored as their IEEE bits,
// so every layout in this module (float density, uint32 masks, float3 positions,
// 5×uint32 draw args) maps onto it without padding.
//
// Kernel accessors are not synchronised; invocations must write disjoint indices or go
// through AtomicAdd.
type Buffer struct {
	id       BufferID
	label    string
	usage    gputypes.BufferUsage
	words    []uint32
	access   atomic.Uint32
	released atomic.Bool
}

func (b *Buffer) ID() BufferID                { return b.id }
func (b *Buffer) Label() string               { return b.label }
func (b *Buffer) Len() int                    { return len(b.words) }
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }
func (b *Buffer) Access() Access              { return Access(b.access.Load()) }
func (b *Buffer) Released() bool              { return b.released.Load() }

func (b *Buffer) Uint32(i int) uint32       { return b.words[i] }
func (b *Buffer) SetUint32(i int, v uint32) { b.words[i] = v }

func (b *Buffer) Float32(i int) float32       { return math.Float32frombits(b.words[i]) }
func (b *Buffer) SetFloat32(i int, v float32) { b.words[i] = math.Float32bits(v) }

// AtomicAdd adds delta to word i and returns the previous value, so each caller
// observes a distinct value of the running sum.
func (b *Buffer) AtomicAdd(i int, delta uint32) uint32 {
	return atomic.AddUint32(&b.words[i], delta) - delta
}

// AtomicLoad reads word i with acquire semantics.
func (b *Buffer) AtomicLoad(i int) uint32 {
	return atomic.LoadUint32(&b.words[i])
}

// Uint32s copies the buffer contents. Only safe once the device has finished every
// command list that writes the buffer.
func (b *Buffer) Uint32s() []uint32 {
	out := make([]uint32, len(b.words))
	copy(out, b.words)
	return out
}

// Float32s copies the buffer contents reinterpreted as floats.
func (b *Buffer) Float32s() []float32 {
	out := make([]float32, len(b.words))
	for i, w := range b.words {
		out[i] = math.Float32frombits(w)
	}
	return out
}
