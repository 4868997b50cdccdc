package compute

import (
	"context"
	"sync/atomic"
)

// Readback is a host-visible copy of a device buffer that completes asynchronously.
type Readback struct {
	label string
	ready atomic.Bool
	done  chan struct{}
	data  []uint32
	err   error
}

func newReadback(label string) *Readback {
	return &Readback{label: label, done: make(chan struct{})}
}

func (r *Readback) Label() string { return r.label }

// IsReady reports whether the copy has landed. It never blocks.
func (r *Readback) IsReady() bool { return r.ready.Load() }

// Done is closed once the copy has landed or failed.
func (r *Readback) Done() <-chan struct{} { return r.done }

// Data returns the copied words, or nil if the readback is not ready.
func (r *Readback) Data() []uint32 {
	if !r.IsReady() {
		return nil
	}
	return r.data
}

// Err returns the failure that prevented the copy, if any.
func (r *Readback) Err() error {
	if !r.IsReady() {
		return nil
	}
	return r.err
}

func (r *Readback) complete(data []uint32, err error) {
	if r.ready.Load() {
		return
	}
	r.data = data
	r.err = err
	r.ready.Store(true)
	close(r.done)
}

// Await waits for the readback without spinning and returns its words.
func Await(ctx context.Context, r *Readback) ([]uint32, error) {
	if !r.IsReady() {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return r.Data(), nil
}
