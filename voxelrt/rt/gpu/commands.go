package gpu

import (
	"fmt"
)

// Barrier is a bitmask of memory dependencies between dispatches.
type Barrier uint8

const (
	// BarrierShaderAccess makes compute writes visible to later compute
	// reads and writes.
	BarrierShaderAccess Barrier = 1 << iota
	// BarrierIndirectAccess makes compute writes visible as indirect
	// dispatch arguments.
	BarrierIndirectAccess

	BarrierAll = BarrierShaderAccess | BarrierIndirectAccess
)

func (b Barrier) String() string {
	switch b {
	case BarrierShaderAccess:
		return "shader_access"
	case BarrierIndirectAccess:
		return "indirect_access"
	case BarrierAll:
		return "shader_access|indirect_access"
	}
	return fmt.Sprintf("Barrier(%d)", uint8(b))
}

type OpKind uint8

const (
	OpBindKernel OpKind = iota
	OpBindGroup
	OpPushConstants
	OpDispatch
	OpDispatchIndirect
	OpBarrier
	OpCopyBuffer
)

func (k OpKind) String() string {
	return [...]string{"bind_kernel", "bind_group", "push_constants", "dispatch", "dispatch_indirect", "barrier", "copy_buffer"}[k]
}

// Op is one recorded command. Only the fields relevant to Kind are set.
type Op struct {
	Kind    OpKind
	Kernel  Kernel
	Set     uint32
	Group   BindGroup
	Push    []uint32
	Groups  [3]uint32
	Buffer  Buffer
	Offset  uint64
	Barrier Barrier
	Src     Buffer
	Dst     Buffer
	SrcOff  uint64
	DstOff  uint64
	Size    uint64
}

// CommandList is an immutable, replayable sequence of ops.
type CommandList struct {
	Label string
	Ops   []Op
}

func (l *CommandList) Dispatches() int {
	n := 0
	for _, op := range l.Ops {
		if op.Kind == OpDispatch || op.Kind == OpDispatchIndirect {
			n++
		}
	}
	return n
}

func (l *CommandList) Barriers() int {
	n := 0
	for _, op := range l.Ops {
		if op.Kind == OpBarrier {
			n++
		}
	}
	return n
}

// Recorder builds a CommandList. Methods chain; the first misuse is
// remembered and returned by Finish.
type Recorder struct {
	list   *CommandList
	kernel Kernel
	err    error
}

func NewRecorder(label string) *Recorder {
	return &Recorder{list: &CommandList{Label: label}}
}

func (r *Recorder) fail(format string, args ...any) *Recorder {
	if r.err == nil {
		r.err = fmt.Errorf("%s: "+format, append([]any{r.list.Label}, args...)...)
	}
	return r
}

func (r *Recorder) BindKernel(k Kernel) *Recorder {
	if k == nil {
		return r.fail("nil kernel")
	}
	r.kernel = k
	r.list.Ops = append(r.list.Ops, Op{Kind: OpBindKernel, Kernel: k})
	return r
}

func (r *Recorder) BindGroup(set uint32, g BindGroup) *Recorder {
	if g == nil {
		return r.fail("nil bind group for set %d", set)
	}
	r.list.Ops = append(r.list.Ops, Op{Kind: OpBindGroup, Set: set, Group: g})
	return r
}

// Bind binds k and its bind groups in set order.
func (r *Recorder) Bind(k Kernel, groups ...BindGroup) *Recorder {
	r.BindKernel(k)
	for i, g := range groups {
		r.BindGroup(uint32(i), g)
	}
	return r
}

func (r *Recorder) PushConstants(words ...uint32) *Recorder {
	if r.kernel == nil {
		return r.fail("push constants without a bound kernel")
	}
	if max := r.kernel.Desc().PushConstants; uint32(len(words)) > max {
		return r.fail("kernel %s takes %d push constant words, got %d", r.kernel.Desc().Name, max, len(words))
	}
	r.list.Ops = append(r.list.Ops, Op{Kind: OpPushConstants, Push: append([]uint32(nil), words...)})
	return r
}

// Dispatch launches enough workgroups to cover extent invocations in each
// dimension.
func (r *Recorder) Dispatch(extent [3]uint32) *Recorder {
	if r.kernel == nil {
		return r.fail("%w", ErrNoKernelBound)
	}
	wg := r.kernel.Desc().WorkgroupSize
	var groups [3]uint32
	for i := range groups {
		size := wg[i]
		if size == 0 {
			size = 1
		}
		groups[i] = (extent[i] + size - 1) / size
	}
	r.list.Ops = append(r.list.Ops, Op{Kind: OpDispatch, Groups: groups})
	return r
}

// DispatchGroups launches exactly groups workgroups.
func (r *Recorder) DispatchGroups(groups [3]uint32) *Recorder {
	if r.kernel == nil {
		return r.fail("%w", ErrNoKernelBound)
	}
	r.list.Ops = append(r.list.Ops, Op{Kind: OpDispatch, Groups: groups})
	return r
}

// DispatchIndirect reads three u32 workgroup counts from buf at offset.
func (r *Recorder) DispatchIndirect(buf Buffer, offset uint64) *Recorder {
	if r.kernel == nil {
		return r.fail("%w", ErrNoKernelBound)
	}
	if buf == nil {
		return r.fail("nil indirect buffer")
	}
	if offset%4 != 0 || offset+12 > buf.Size() {
		return r.fail("indirect offset %d invalid for %s of %d bytes", offset, buf.Label(), buf.Size())
	}
	r.list.Ops = append(r.list.Ops, Op{Kind: OpDispatchIndirect, Buffer: buf, Offset: offset})
	return r
}

func (r *Recorder) Barrier(b Barrier) *Recorder {
	r.list.Ops = append(r.list.Ops, Op{Kind: OpBarrier, Barrier: b})
	return r
}

func (r *Recorder) ShaderBarrier() *Recorder   { return r.Barrier(BarrierShaderAccess) }
func (r *Recorder) IndirectBarrier() *Recorder { return r.Barrier(BarrierIndirectAccess) }

func (r *Recorder) CopyBuffer(src Buffer, srcOff uint64, dst Buffer, dstOff uint64, size uint64) *Recorder {
	if src == nil || dst == nil {
		return r.fail("nil copy buffer")
	}
	if srcOff%4 != 0 || dstOff%4 != 0 || size%4 != 0 {
		return r.fail("copy %s -> %s not 4-byte aligned", src.Label(), dst.Label())
	}
	if srcOff+size > src.Size() || dstOff+size > dst.Size() {
		return r.fail("copy of %d bytes out of range (%s@%d -> %s@%d)", size, src.Label(), srcOff, dst.Label(), dstOff)
	}
	r.list.Ops = append(r.list.Ops, Op{Kind: OpCopyBuffer, Src: src, SrcOff: srcOff, Dst: dst, DstOff: dstOff, Size: size})
	return r
}

// Finish validates the recorded ops and returns the list.
func (r *Recorder) Finish() (*CommandList, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := Validate(r.list); err != nil {
		return nil, err
	}
	return r.list, nil
}
