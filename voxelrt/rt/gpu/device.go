// Package gpu is the compute execution substrate the tree builders run on.
//
// Work is recorded once into a backend-neutral CommandList (bind kernel,
// bind groups, push constants, direct or indirect dispatch, barriers,
// buffer copies) and then submitted to a Device. Two devices exist: the
// WebGPU device that drives real hardware and the soft device that runs
// the same command lists on the CPU.
package gpu

import (
	"errors"
	"fmt"
)

var (
	ErrMissingBarrier = errors.New("missing barrier")
	ErrNoKernelBound  = errors.New("dispatch without a bound kernel")
	ErrUnsupported    = errors.New("not supported by this device")
	ErrUsageConflict  = errors.New("indirect args buffer is bound to the dispatching kernel")
)

type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageIndirect
	BufferUsageCopySrc
	BufferUsageCopyDst
)

// UsageScratch is what every build buffer gets: shader storage that the
// host can write and read back.
const UsageScratch = BufferUsageStorage | BufferUsageCopySrc | BufferUsageCopyDst

type BindingKind uint8

const (
	BindingUniform BindingKind = iota
	BindingStorage
	BindingReadOnlyStorage
)

func (k BindingKind) String() string {
	switch k {
	case BindingUniform:
		return "uniform"
	case BindingStorage:
		return "storage"
	case BindingReadOnlyStorage:
		return "read-only-storage"
	}
	return fmt.Sprintf("BindingKind(%d)", k)
}

type LayoutEntry struct {
	Binding uint32
	Kind    BindingKind
	Name    string
}

// GroupLayout describes one bind group (descriptor set). Layouts are
// compared by Name.
type GroupLayout struct {
	Name    string
	Entries []LayoutEntry
}

// Index returns the position of binding in Entries, or -1.
func (l GroupLayout) Index(binding uint32) int {
	for i, e := range l.Entries {
		if e.Binding == binding {
			return i
		}
	}
	return -1
}

// Slot addresses one binding of one set.
type Slot struct {
	Set     uint32
	Binding uint32
}

// KernelDesc is everything a device needs to build a compute pipeline.
// Writes lists the bindings the kernel stores to; the recorder uses it to
// find missing barriers.
type KernelDesc struct {
	Name          string
	EntryPoint    string
	Source        string
	WorkgroupSize [3]uint32
	Groups        []GroupLayout
	Writes        []Slot
	PushConstants uint32 // in 32-bit words
}

func (d KernelDesc) writes(s Slot) bool {
	for _, w := range d.Writes {
		if w == s {
			return true
		}
	}
	return false
}

type Buffer interface {
	Label() string
	Size() uint64
}

type Kernel interface {
	Desc() KernelDesc
}

type BindGroup interface {
	Label() string
	Layout() GroupLayout
	// Buffers is parallel to Layout().Entries.
	Buffers() []Buffer
}

// Device is the execution substrate. Submit is asynchronous from the
// caller's point of view; WaitIdle blocks until every submitted command
// list has completed. Readbacks imply a wait.
type Device interface {
	Name() string
	CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error)
	CreateKernel(desc KernelDesc) (Kernel, error)
	CreateBindGroup(label string, layout GroupLayout, buffers ...Buffer) (BindGroup, error)
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
	ReadBuffer(buf Buffer, offset, size uint64) ([]byte, error)
	Submit(list *CommandList) error
	WaitIdle() error
	Release()
}

// SubmitAndWait submits list and blocks until the device is idle.
func SubmitAndWait(dev Device, list *CommandList) error {
	if err := dev.Submit(list); err != nil {
		return fmt.Errorf("failed to submit %s: %w", list.Label, err)
	}
	if err := dev.WaitIdle(); err != nil {
		return fmt.Errorf("failed to wait for %s: %w", list.Label, err)
	}
	return nil
}

// MustCreateBuffer panics on failure; for construction-time buffers.
func MustCreateBuffer(dev Device, label string, size uint64, usage BufferUsage) Buffer {
	buf, err := dev.CreateBuffer(label, size, usage)
	if err != nil {
		panic(fmt.Errorf("failed to create buffer %s: %w", label, err))
	}
	return buf
}

// MustCreateKernel panics on failure. A kernel that cannot be built is a
// configuration defect, not a runtime condition.
func MustCreateKernel(dev Device, desc KernelDesc) Kernel {
	k, err := dev.CreateKernel(desc)
	if err != nil {
		panic(fmt.Errorf("failed to create kernel %s: %w", desc.Name, err))
	}
	return k
}

func MustCreateBindGroup(dev Device, label string, layout GroupLayout, buffers ...Buffer) BindGroup {
	bg, err := dev.CreateBindGroup(label, layout, buffers...)
	if err != nil {
		panic(fmt.Errorf("failed to create bind group %s: %w", label, err))
	}
	return bg
}

func checkBindGroup(label string, layout GroupLayout, buffers []Buffer) error {
	if len(buffers) != len(layout.Entries) {
		return fmt.Errorf("bind group %s: layout %s has %d entries, got %d buffers", label, layout.Name, len(layout.Entries), len(buffers))
	}
	for i, b := range buffers {
		if b == nil {
			return fmt.Errorf("bind group %s: binding %d (%s) is nil", label, layout.Entries[i].Binding, layout.Entries[i].Name)
		}
	}
	return nil
}
