package builder

import (
	"fmt"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"
)

var one = [3]uint32{1, 1, 1}

// pipelineSet is every kernel of one module plus the bind group they share.
type pipelineSet struct {
	module *kernels.Module
	k      map[string]gpu.Kernel
	group  gpu.BindGroup
}

// newPipelineSet panics when a kernel or the bind group cannot be built;
// that is a configuration defect.
func newPipelineSet(dev gpu.Device, m *kernels.Module, buffers ...gpu.Buffer) *pipelineSet {
	ps := &pipelineSet{module: m, k: make(map[string]gpu.Kernel)}
	for _, ep := range m.EntryPoints() {
		ps.k[ep] = gpu.MustCreateKernel(dev, m.Desc(ep))
	}
	ps.group = gpu.MustCreateBindGroup(dev, m.Name, m.Layout, buffers...)
	return ps
}

func (ps *pipelineSet) bind(r *gpu.Recorder, ep string) *gpu.Recorder {
	k, ok := ps.k[ep]
	if !ok {
		panic(fmt.Sprintf("module %s has no kernel %q", ps.module.Name, ep))
	}
	return r.Bind(k, ps.group)
}

func structOf(name string) *layout.Struct { return kernels.Structs.MustStruct(name) }

func uniform(dev gpu.Device, label, structName string) gpu.Buffer {
	return gpu.MustCreateBuffer(dev, label, max(structOf(structName).Size, 16), gpu.BufferUsageUniform|gpu.BufferUsageCopyDst)
}

func storage(dev gpu.Device, label string, size uint64) gpu.Buffer {
	return gpu.MustCreateBuffer(dev, label, core.AlignUp(max(size, 16), 4), gpu.UsageScratch)
}

// dispatchArgs is a storage buffer kernels write workgroup counts into
// and the indirect-only buffer DispatchIndirect reads them from. A buffer
// bound to the dispatching kernel cannot also serve as its indirect args,
// so the counts cross over with a copy.
type dispatchArgs struct {
	staging  gpu.Buffer
	indirect gpu.Buffer
}

func newDispatchArgs(dev gpu.Device, label string) dispatchArgs {
	return dispatchArgs{
		staging:  gpu.MustCreateBuffer(dev, label, 12, gpu.UsageScratch),
		indirect: gpu.MustCreateBuffer(dev, label+"_args", 12, gpu.BufferUsageIndirect|gpu.BufferUsageCopyDst),
	}
}

// publish copies freshly written counts to the indirect buffers. The
// writing dispatch must already be behind a barrier.
func publish(r *gpu.Recorder, args ...dispatchArgs) *gpu.Recorder {
	for _, a := range args {
		r.CopyBuffer(a.staging, 0, a.indirect, 0, 12)
	}
	return r
}

// readStruct reads a whole result struct back from buf.
func readStruct(dev gpu.Device, buf gpu.Buffer, structName string) (*layout.DataReader, error) {
	s := structOf(structName)
	raw, err := dev.ReadBuffer(buf, 0, s.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", structName, err)
	}
	return layout.NewDataReader(s, raw), nil
}

func mustU32(r *layout.DataReader, path string) uint32 {
	v, err := r.U32(path)
	if err != nil {
		panic(err)
	}
	return v
}
