package gpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

// KernelFunc is the CPU body of a compute entry point. It runs once per
// invocation. Soft devices look bodies up by KernelDesc.Name.
type KernelFunc func(inv *Invocation)

// Memory is the backing store of a soft buffer: 32-bit words accessed
// atomically so concurrent workgroups observe the same semantics as
// storage buffers on a GPU.
type Memory struct {
	words []uint32
}

// NewMemory is detached scratch memory of n words, for running kernel
// bodies outside a device.
func NewMemory(n uint32) *Memory { return &Memory{words: make([]uint32, n)} }

func (m *Memory) Len() uint32 { return uint32(len(m.words)) }

func (m *Memory) Load(i uint32) uint32     { return atomic.LoadUint32(&m.words[i]) }
func (m *Memory) Store(i uint32, v uint32) { atomic.StoreUint32(&m.words[i], v) }

// Add returns the value before the addition, like atomicAdd.
func (m *Memory) Add(i uint32, delta uint32) uint32 {
	return atomic.AddUint32(&m.words[i], delta) - delta
}

func (m *Memory) Or(i uint32, bits uint32) uint32 { return atomic.OrUint32(&m.words[i], bits) }

func (m *Memory) Max(i uint32, v uint32) uint32 {
	for {
		old := atomic.LoadUint32(&m.words[i])
		if old >= v || atomic.CompareAndSwapUint32(&m.words[i], old, v) {
			return old
		}
	}
}

// Invocation is the per-thread view a KernelFunc receives.
type Invocation struct {
	GlobalID    [3]uint32
	LocalID     [3]uint32
	WorkgroupID [3]uint32
	NumGroups   [3]uint32
	Push        []uint32
	sets        [][]*Memory
}

// Buffer returns the memory bound at set 0.
func (inv *Invocation) Buffer(binding uint32) *Memory {
	return inv.sets[0][binding]
}

func (inv *Invocation) BufferAt(set, binding uint32) *Memory {
	return inv.sets[set][binding]
}

type softBuffer struct {
	label string
	size  uint64
	mem   *Memory
}

func (b *softBuffer) Label() string { return b.label }
func (b *softBuffer) Size() uint64  { return b.size }

type softKernel struct {
	desc KernelDesc
	fn   KernelFunc
}

func (k *softKernel) Desc() KernelDesc { return k.desc }

type softBindGroup struct {
	label   string
	layout  GroupLayout
	buffers []Buffer
	// indexed by binding number
	byBinding []*Memory
}

func (g *softBindGroup) Label() string       { return g.label }
func (g *softBindGroup) Layout() GroupLayout { return g.layout }
func (g *softBindGroup) Buffers() []Buffer   { return g.buffers }

type SoftOptions struct {
	// Workers > 1 runs the workgroups of a dispatch concurrently.
	Workers int
	// ValidateOnSubmit re-runs hazard validation on every submit.
	ValidateOnSubmit bool
}

// SoftDevice executes command lists on the CPU. Submit runs to completion
// before returning.
type SoftDevice struct {
	kernels map[string]KernelFunc
	opts    SoftOptions
	logger  core.Logger
	pool    worker.DynamicWorkerPool
	mu      sync.Mutex
	taskID  int
}

func NewSoftDevice(kernels map[string]KernelFunc, logger core.Logger, opts SoftOptions) *SoftDevice {
	d := &SoftDevice{
		kernels: kernels,
		opts:    opts,
		logger:  core.Named(logger, "soft"),
	}
	if opts.Workers > 1 {
		d.pool = worker.NewDynamicWorkerPool(opts.Workers, 256, time.Second)
	}
	return d
}

func (d *SoftDevice) Name() string {
	if d.pool != nil {
		return fmt.Sprintf("soft(%d workers)", d.opts.Workers)
	}
	return "soft"
}

func (d *SoftDevice) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("buffer %s: size %d is not a positive multiple of 4", label, size)
	}
	return &softBuffer{label: label, size: size, mem: NewMemory(uint32(size / 4))}, nil
}

func (d *SoftDevice) CreateKernel(desc KernelDesc) (Kernel, error) {
	fn, ok := d.kernels[desc.Name]
	if !ok {
		return nil, fmt.Errorf("no CPU body for kernel %q", desc.Name)
	}
	return &softKernel{desc: desc, fn: fn}, nil
}

func (d *SoftDevice) CreateBindGroup(label string, layout GroupLayout, buffers ...Buffer) (BindGroup, error) {
	if err := checkBindGroup(label, layout, buffers); err != nil {
		return nil, err
	}
	g := &softBindGroup{label: label, layout: layout, buffers: buffers}
	for i, e := range layout.Entries {
		sb, ok := buffers[i].(*softBuffer)
		if !ok {
			return nil, fmt.Errorf("bind group %s: buffer %s belongs to another device", label, buffers[i].Label())
		}
		for uint32(len(g.byBinding)) <= e.Binding {
			g.byBinding = append(g.byBinding, nil)
		}
		g.byBinding[e.Binding] = sb.mem
	}
	return g, nil
}

func (d *SoftDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	sb, ok := buf.(*softBuffer)
	if !ok {
		return fmt.Errorf("buffer %s belongs to another device", buf.Label())
	}
	if offset%4 != 0 || len(data)%4 != 0 || offset+uint64(len(data)) > sb.size {
		return fmt.Errorf("write of %d bytes at %d out of range for %s", len(data), offset, sb.label)
	}
	base := uint32(offset / 4)
	for i := 0; i < len(data); i += 4 {
		sb.mem.Store(base+uint32(i/4), binary.LittleEndian.Uint32(data[i:]))
	}
	return nil
}

func (d *SoftDevice) ReadBuffer(buf Buffer, offset, size uint64) ([]byte, error) {
	sb, ok := buf.(*softBuffer)
	if !ok {
		return nil, fmt.Errorf("buffer %s belongs to another device", buf.Label())
	}
	if offset%4 != 0 || size%4 != 0 || offset+size > sb.size {
		return nil, fmt.Errorf("read of %d bytes at %d out of range for %s", size, offset, sb.label)
	}
	out := make([]byte, size)
	base := uint32(offset / 4)
	for i := uint64(0); i < size; i += 4 {
		binary.LittleEndian.PutUint32(out[i:], sb.mem.Load(base+uint32(i/4)))
	}
	return out, nil
}

type softState struct {
	kernel *softKernel
	groups map[uint32]*softBindGroup
	push   []uint32
}

func (d *SoftDevice) Submit(list *CommandList) error {
	if d.opts.ValidateOnSubmit {
		if err := Validate(list); err != nil {
			return err
		}
	}
	d.logger.Debugf("submit %s: %d ops, %d dispatches", list.Label, len(list.Ops), list.Dispatches())
	st := &softState{groups: make(map[uint32]*softBindGroup)}
	for i, op := range list.Ops {
		if err := d.exec(st, op); err != nil {
			return fmt.Errorf("%s: op %d (%s): %w", list.Label, i, op.Kind, err)
		}
	}
	return nil
}

func (d *SoftDevice) exec(st *softState, op Op) error {
	switch op.Kind {
	case OpBindKernel:
		k, ok := op.Kernel.(*softKernel)
		if !ok {
			return fmt.Errorf("kernel %s belongs to another device", op.Kernel.Desc().Name)
		}
		st.kernel = k
	case OpBindGroup:
		g, ok := op.Group.(*softBindGroup)
		if !ok {
			return fmt.Errorf("bind group %s belongs to another device", op.Group.Label())
		}
		st.groups[op.Set] = g
	case OpPushConstants:
		st.push = op.Push
	case OpDispatch:
		return d.dispatch(st, op.Groups)
	case OpDispatchIndirect:
		sb := op.Buffer.(*softBuffer)
		base := uint32(op.Offset / 4)
		return d.dispatch(st, [3]uint32{sb.mem.Load(base), sb.mem.Load(base + 1), sb.mem.Load(base + 2)})
	case OpBarrier:
		// dispatches complete in order
	case OpCopyBuffer:
		src, dst := op.Src.(*softBuffer), op.Dst.(*softBuffer)
		s, t := uint32(op.SrcOff/4), uint32(op.DstOff/4)
		n := uint32(op.Size / 4)
		tmp := make([]uint32, n)
		for i := range n {
			tmp[i] = src.mem.Load(s + i)
		}
		for i := range n {
			dst.mem.Store(t+i, tmp[i])
		}
	}
	return nil
}

func (d *SoftDevice) dispatch(st *softState, groups [3]uint32) error {
	if st.kernel == nil {
		return ErrNoKernelBound
	}
	desc := st.kernel.desc
	sets := make([][]*Memory, len(desc.Groups))
	for i := range desc.Groups {
		g, ok := st.groups[uint32(i)]
		if !ok {
			return fmt.Errorf("kernel %s: set %d not bound", desc.Name, i)
		}
		sets[i] = g.byBinding
	}
	total := uint64(groups[0]) * uint64(groups[1]) * uint64(groups[2])
	if total == 0 {
		return nil
	}
	run := func(first, last uint64) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("kernel %s panicked: %v", desc.Name, r)
			}
		}()
		inv := &Invocation{NumGroups: groups, Push: st.push, sets: sets}
		wg := desc.WorkgroupSize
		for g := first; g < last; g++ {
			inv.WorkgroupID = [3]uint32{
				uint32(g % uint64(groups[0])),
				uint32(g / uint64(groups[0]) % uint64(groups[1])),
				uint32(g / (uint64(groups[0]) * uint64(groups[1]))),
			}
			for lz := uint32(0); lz < max(wg[2], 1); lz++ {
				for ly := uint32(0); ly < max(wg[1], 1); ly++ {
					for lx := uint32(0); lx < max(wg[0], 1); lx++ {
						inv.LocalID = [3]uint32{lx, ly, lz}
						inv.GlobalID = [3]uint32{
							inv.WorkgroupID[0]*max(wg[0], 1) + lx,
							inv.WorkgroupID[1]*max(wg[1], 1) + ly,
							inv.WorkgroupID[2]*max(wg[2], 1) + lz,
						}
						st.kernel.fn(inv)
					}
				}
			}
		}
		return nil
	}
	if d.pool == nil || total == 1 {
		return run(0, total)
	}

	chunks := uint64(d.opts.Workers) * 4
	if chunks > total {
		chunks = total
	}
	step := (total + chunks - 1) / chunks
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		first error
	)
	for lo := uint64(0); lo < total; lo += step {
		hi := min(lo+step, total)
		wg.Add(1)
		d.mu.Lock()
		id := d.taskID
		d.taskID++
		d.mu.Unlock()
		d.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				err := run(lo, hi)
				if err != nil {
					errMu.Lock()
					if first == nil {
						first = err
					}
					errMu.Unlock()
				}
				return nil, err
			},
		})
	}
	wg.Wait()
	return first
}

func (d *SoftDevice) WaitIdle() error { return nil }

func (d *SoftDevice) Release() {
	if d.pool != nil {
		d.pool.Stop()
		d.pool = nil
	}
}

// Words exposes the memory behind a soft buffer, for tests and
// diagnostics.
func Words(buf Buffer) *Memory {
	if sb, ok := buf.(*softBuffer); ok {
		return sb.mem
	}
	return nil
}
