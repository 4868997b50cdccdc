package compute

import "fmt"

// DefaultGroupSize matches the 8×8×8 thread groups the terrain kernels were written for.
var DefaultGroupSize = [3]int{8, 8, 8}

// Kernel is a compute entry point invoked once per thread of a dispatch.
type Kernel struct {
	Label     string
	GroupSize [3]int // zero means DefaultGroupSize
	Main      func(id [3]int)
}

func (k Kernel) groupSize() [3]int {
	gs := k.GroupSize
	for i := range gs {
		if gs[i] <= 0 {
			gs = DefaultGroupSize
			break
		}
	}
	return gs
}

// GroupCount returns the number of groups needed to cover threads.
func GroupCount(threads, group [3]int) [3]int {
	var out [3]int
	for i := range out {
		if threads[i] <= 0 {
			out[i] = 0
			continue
		}
		out[i] = (threads[i] + group[i] - 1) / group[i]
	}
	return out
}

type opKind int

const (
	opDispatch opKind = iota
	opTransition
	opUpload
	opFill
	opReadback
	opHost
)

type op struct {
	kind    opKind
	label   string
	kernel  Kernel
	threads [3]int
	access  Access
	buffers []*Buffer
	offset  int
	data    []uint32
	value   uint32
	count   int
	rb      *Readback
	host    func()
}

// CommandList records passes for one submission. Passes run in recording order; a
// pass observes every write of the passes before it.
type CommandList struct {
	label string
	ops   []op
}

// NewCommandList returns an empty command list.
func NewCommandList(label string) *CommandList {
	return &CommandList{label: label}
}

func (cl *CommandList) Label() string { return cl.label }
func (cl *CommandList) Len() int      { return len(cl.ops) }

// Dispatch runs k once per thread in [0,threads).
func (cl *CommandList) Dispatch(k Kernel, threads [3]int, bound ...*Buffer) {
	cl.ops = append(cl.ops, op{kind: opDispatch, label: k.Label, kernel: k, threads: threads, buffers: bound})
}

// Transition moves buffers into access before the next pass.
func (cl *CommandList) Transition(access Access, bufs ...*Buffer) {
	cl.ops = append(cl.ops, op{kind: opTransition, label: "Transition" + access.String(), access: access, buffers: bufs})
}

// Upload copies data into b starting at word offset.
func (cl *CommandList) Upload(b *Buffer, offset int, data []uint32) {
	cp := make([]uint32, len(data))
	copy(cp, data)
	cl.ops = append(cl.ops, op{kind: opUpload, label: "Upload " + b.label, buffers: []*Buffer{b}, offset: offset, data: cp})
}

// Fill sets every word of b to value.
func (cl *CommandList) Fill(b *Buffer, value uint32) {
	cl.ops = append(cl.ops, op{kind: opFill, label: "Fill " + b.label, buffers: []*Buffer{b}, value: value})
}

// EnqueueCopy schedules a copy of the first n words of b to host memory. The returned
// readback becomes ready once the submission reaches this pass.
func (cl *CommandList) EnqueueCopy(label string, b *Buffer, n int) *Readback {
	rb := newReadback(label)
	cl.ops = append(cl.ops, op{kind: opReadback, label: label, buffers: []*Buffer{b}, count: n, rb: rb})
	return rb
}

// Host runs fn on the submission context between passes.
func (cl *CommandList) Host(label string, fn func()) {
	cl.ops = append(cl.ops, op{kind: opHost, label: label, host: fn})
}

func (o op) String() string {
	return fmt.Sprintf("%s(%d buffers)", o.label, len(o.buffers))
}
