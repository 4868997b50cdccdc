package compute

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

var (
	ErrDeviceClosed   = errors.New("compute: device closed")
	ErrBufferTooLarge = errors.New("compute: buffer too large")
	ErrOutOfRange     = errors.New("compute: access out of range")
	ErrReleased       = errors.New("compute: buffer released")
	ErrKernelPanic    = errors.New("compute: kernel panicked")
)

// Device records buffers and runs command lists asynchronously.
type Device interface {
	CreateBuffer(label string, elems int, usage gputypes.BufferUsage) (*Buffer, error)
	CreateBufferInit(label string, data []uint32, usage gputypes.BufferUsage) (*Buffer, error)
	ReleaseBuffer(b *Buffer)
	Submit(cl *CommandList) error
	Close() error
}

// DefaultMaxBufferElems caps a single allocation at 256 MiB of words.
const DefaultMaxBufferElems = 1 << 26

// SoftDevice executes kernels on the CPU. Submissions are processed in order by a single
// submission goroutine; each dispatch spreads its thread groups over a bounded set of
// worker goroutines.
type SoftDevice struct {
	logger   *log.Logger
	workers  int
	maxElems int

	queue chan *CommandList
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	liveMu sync.Mutex
	live   map[BufferID]*Buffer

	nextID    atomic.Uint64
	submitted atomic.Int64
	completed atomic.Int64
}

// Option configures a SoftDevice.
type Option func(*SoftDevice)

func WithLogger(l *log.Logger) Option { return func(d *SoftDevice) { d.logger = l } }

// WithWorkers bounds the goroutines used per dispatch. Values below 1 mean NumCPU.
func WithWorkers(n int) Option { return func(d *SoftDevice) { d.workers = n } }

func WithMaxBufferElems(n int) Option { return func(d *SoftDevice) { d.maxElems = n } }

// NewSoftDevice starts the submission goroutine.
func NewSoftDevice(opts ...Option) *SoftDevice {
	d := &SoftDevice{
		maxElems: DefaultMaxBufferElems,
		queue:    make(chan *CommandList, 64),
		done:     make(chan struct{}),
		live:     make(map[BufferID]*Buffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard, "", 0)
	}
	if d.workers < 1 {
		d.workers = runtime.NumCPU()
	}
	go d.run()
	return d
}

func (d *SoftDevice) CreateBuffer(label string, elems int, usage gputypes.BufferUsage) (*Buffer, error) {
	if elems < 0 {
		return nil, fmt.Errorf("%s: %d elements: %w", label, elems, ErrOutOfRange)
	}
	if elems > d.maxElems {
		return nil, fmt.Errorf("%s: %d elements: %w", label, elems, ErrBufferTooLarge)
	}
	// A zero sized structured buffer is legal but unusable, so round up like the driver would.
	if elems == 0 {
		elems = 1
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	b := &Buffer{
		id:    BufferID(d.nextID.Add(1)),
		label: label,
		usage: usage,
		words: make([]uint32, elems),
	}
	d.liveMu.Lock()
	d.live[b.id] = b
	d.liveMu.Unlock()
	return b, nil
}

func (d *SoftDevice) CreateBufferInit(label string, data []uint32, usage gputypes.BufferUsage) (*Buffer, error) {
	b, err := d.CreateBuffer(label, len(data), usage)
	if err != nil {
		return nil, err
	}
	copy(b.words, data)
	return b, nil
}

// ReleaseBuffer marks b released. Passes already submitted against it fail their
// readbacks instead of touching freed memory. Releasing twice is a no-op.
func (d *SoftDevice) ReleaseBuffer(b *Buffer) {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	d.liveMu.Lock()
	delete(d.live, b.id)
	d.liveMu.Unlock()
}

// LiveBuffers returns the number of buffers not yet released.
func (d *SoftDevice) LiveBuffers() int {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	return len(d.live)
}

// Pending returns the number of submitted command lists that have not finished.
func (d *SoftDevice) Pending() int64 {
	return d.submitted.Load() - d.completed.Load()
}

func (d *SoftDevice) Submit(cl *CommandList) error {
	if cl == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDeviceClosed
	}
	d.submitted.Add(1)
	d.queue <- cl
	return nil
}

// Close stops accepting submissions and waits for queued lists to drain.
func (d *SoftDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
	return nil
}

func (d *SoftDevice) run() {
	defer close(d.done)
	for cl := range d.queue {
		d.execute(cl)
		d.completed.Add(1)
	}
}

func (d *SoftDevice) execute(cl *CommandList) {
	var failed error
	for _, o := range cl.ops {
		if failed != nil {
			if o.rb != nil {
				o.rb.complete(nil, failed)
			}
			continue
		}
		if err := d.executeOp(o); err != nil {
			d.logger.Printf("%s: %s: %v", cl.label, o.label, err)
			failed = err
			if o.rb != nil {
				o.rb.complete(nil, err)
			}
		}
	}
}

func (d *SoftDevice) executeOp(o op) (err error) {
	for _, b := range o.buffers {
		if b.Released() {
			return fmt.Errorf("%s: %w", b.label, ErrReleased)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v: %w", r, ErrKernelPanic)
		}
	}()

	switch o.kind {
	case opDispatch:
		d.dispatch(o.kernel, o.threads)
	case opTransition:
		for _, b := range o.buffers {
			b.access.Store(uint32(o.access))
		}
	case opUpload:
		b := o.buffers[0]
		if o.offset < 0 || o.offset+len(o.data) > len(b.words) {
			return fmt.Errorf("%s: upload [%d,%d) of %d: %w", b.label, o.offset, o.offset+len(o.data), len(b.words), ErrOutOfRange)
		}
		copy(b.words[o.offset:], o.data)
	case opFill:
		b := o.buffers[0]
		for i := range b.words {
			b.words[i] = o.value
		}
	case opReadback:
		b := o.buffers[0]
		if o.count < 0 || o.count > len(b.words) {
			return fmt.Errorf("%s: copy %d of %d: %w", b.label, o.count, len(b.words), ErrOutOfRange)
		}
		out := make([]uint32, o.count)
		copy(out, b.words[:o.count])
		o.rb.complete(out, nil)
	case opHost:
		o.host()
	}
	return nil
}

// dispatch runs every thread of the grid. Groups are handed out through an atomic
// cursor; threads outside the requested extent are skipped.
func (d *SoftDevice) dispatch(k Kernel, threads [3]int) {
	gs := k.groupSize()
	gc := GroupCount(threads, gs)
	total := gc[0] * gc[1] * gc[2]
	if total == 0 || k.Main == nil {
		return
	}
	workers := min(d.workers, total)

	var cursor atomic.Int64
	var panicked atomic.Value
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicked.CompareAndSwap(nil, fmt.Sprint(r))
				}
			}()
			for {
				g := int(cursor.Add(1) - 1)
				if g >= total {
					return
				}
				gx := g % gc[0]
				gy := (g / gc[0]) % gc[1]
				gz := g / (gc[0] * gc[1])
				runGroup(k.Main, gs, [3]int{gx, gy, gz}, threads)
			}
		}()
	}
	wg.Wait()
	if r := panicked.Load(); r != nil {
		panic(r)
	}
}

func runGroup(main func([3]int), gs, group, threads [3]int) {
	x0, y0, z0 := group[0]*gs[0], group[1]*gs[1], group[2]*gs[2]
	for z := z0; z < min(z0+gs[2], threads[2]); z++ {
		for y := y0; y < min(y0+gs[1], threads[1]); y++ {
			for x := x0; x < min(x0+gs[0], threads[0]); x++ {
				main([3]int{x, y, z})
			}
		}
	}
}
