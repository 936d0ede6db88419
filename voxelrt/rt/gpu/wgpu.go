package gpu

import (
	"fmt"
	"sync"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"

	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuBuffer struct {
	label string
	buf   *wgpu.Buffer
}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.buf.GetSize() }

type wgpuKernel struct {
	desc     KernelDesc
	pipeline *wgpu.ComputePipeline
}

func (k *wgpuKernel) Desc() KernelDesc { return k.desc }

type wgpuBindGroup struct {
	label   string
	layout  GroupLayout
	buffers []Buffer
	group   *wgpu.BindGroup
}

func (g *wgpuBindGroup) Label() string       { return g.label }
func (g *wgpuBindGroup) Layout() GroupLayout { return g.layout }
func (g *wgpuBindGroup) Buffers() []Buffer   { return g.buffers }

// WGPUDevice runs command lists on a WebGPU compute queue. Barriers end
// the current compute pass; WebGPU orders storage and indirect accesses
// across pass boundaries. Push constants are not available.
type WGPUDevice struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	logger  core.Logger
	mu      sync.Mutex
	layouts map[string]*wgpu.BindGroupLayout
	modules map[string]*wgpu.ShaderModule
	owned   bool
}

// NewWGPUDevice requests a headless high-performance adapter.
func NewWGPUDevice(logger core.Logger) (*WGPUDevice, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "voxbuild device",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	d := WrapWGPUDevice(device, logger)
	d.Instance = instance
	d.Adapter = adapter
	d.owned = true
	return d, nil
}

// WrapWGPUDevice shares a device created elsewhere, e.g. by a renderer.
func WrapWGPUDevice(device *wgpu.Device, logger core.Logger) *WGPUDevice {
	return &WGPUDevice{
		Device:  device,
		Queue:   device.GetQueue(),
		logger:  core.Named(logger, "wgpu"),
		layouts: make(map[string]*wgpu.BindGroupLayout),
		modules: make(map[string]*wgpu.ShaderModule),
	}
}

func (d *WGPUDevice) Name() string { return "wgpu" }

func toWGPUUsage(u BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&BufferUsageIndirect != 0 {
		out |= wgpu.BufferUsageIndirect
	}
	if u&BufferUsageCopySrc != 0 {
		out |= wgpu.BufferUsageCopySrc
	}
	if u&BufferUsageCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	return out
}

func (d *WGPUDevice) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	if size%4 != 0 {
		size += 4 - size%4
	}
	buf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            toWGPUUsage(usage | BufferUsageCopyDst),
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBuffer{label: label, buf: buf}, nil
}

func (d *WGPUDevice) bindGroupLayout(l GroupLayout) (*wgpu.BindGroupLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bgl, ok := d.layouts[l.Name]; ok {
		return bgl, nil
	}
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		var t wgpu.BufferBindingType
		switch e.Kind {
		case BindingUniform:
			t = wgpu.BufferBindingTypeUniform
		case BindingStorage:
			t = wgpu.BufferBindingTypeStorage
		case BindingReadOnlyStorage:
			t = wgpu.BufferBindingTypeReadOnlyStorage
		}
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		})
	}
	bgl, err := d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   l.Name,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	d.layouts[l.Name] = bgl
	return bgl, nil
}

func (d *WGPUDevice) shaderModule(name, source string) (*wgpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.modules[source]; ok {
		return m, nil
	}
	m, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return nil, err
	}
	d.modules[source] = m
	return m, nil
}

func (d *WGPUDevice) CreateKernel(desc KernelDesc) (Kernel, error) {
	if desc.PushConstants > 0 {
		return nil, fmt.Errorf("kernel %s: push constants: %w", desc.Name, ErrUnsupported)
	}
	module, err := d.shaderModule(desc.Name, desc.Source)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", desc.Name, err)
	}
	bgls := make([]*wgpu.BindGroupLayout, 0, len(desc.Groups))
	for _, g := range desc.Groups {
		bgl, err := d.bindGroupLayout(g)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: layout %s: %w", desc.Name, g.Name, err)
		}
		bgls = append(bgls, bgl)
	}
	layout, err := d.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Name,
		BindGroupLayouts: bgls,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", desc.Name, err)
	}
	defer layout.Release()
	pipeline, err := d.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Name,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", desc.Name, err)
	}
	return &wgpuKernel{desc: desc, pipeline: pipeline}, nil
}

func (d *WGPUDevice) CreateBindGroup(label string, layout GroupLayout, buffers ...Buffer) (BindGroup, error) {
	if err := checkBindGroup(label, layout, buffers); err != nil {
		return nil, err
	}
	bgl, err := d.bindGroupLayout(layout)
	if err != nil {
		return nil, err
	}
	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, b := range buffers {
		wb, ok := b.(*wgpuBuffer)
		if !ok {
			return nil, fmt.Errorf("bind group %s: buffer %s belongs to another device", label, b.Label())
		}
		entries[i] = wgpu.BindGroupEntry{
			Binding: layout.Entries[i].Binding,
			Buffer:  wb.buf,
			Size:    wgpu.WholeSize,
		}
	}
	bg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  bgl,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBindGroup{label: label, layout: layout, buffers: buffers, group: bg}, nil
}

func (d *WGPUDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	wb, ok := buf.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("buffer %s belongs to another device", buf.Label())
	}
	d.Queue.WriteBuffer(wb.buf, offset, data)
	return nil
}

// ReadBuffer copies the range into a mappable staging buffer and blocks
// until it is mapped.
func (d *WGPUDevice) ReadBuffer(buf Buffer, offset, size uint64) ([]byte, error) {
	wb, ok := buf.(*wgpuBuffer)
	if !ok {
		return nil, fmt.Errorf("buffer %s belongs to another device", buf.Label())
	}
	staging, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: wb.label + " readback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(wb.buf, offset, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	d.Queue.Submit(cmd)

	var status wgpu.BufferMapAsyncStatus
	done := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	for !done {
		d.Device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("failed to map %s: status %v", wb.label, status)
	}
	out := make([]byte, size)
	copy(out, staging.GetMappedRange(0, uint(size)))
	staging.Unmap()
	return out, nil
}

func (d *WGPUDevice) Submit(list *CommandList) error {
	d.logger.Debugf("submit %s: %d ops, %d dispatches", list.Label, len(list.Ops), list.Dispatches())
	encoder, err := d.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: list.Label})
	if err != nil {
		return err
	}
	var (
		pass     *wgpu.ComputePassEncoder
		kernel   *wgpuKernel
		groups   = make(map[uint32]*wgpuBindGroup)
		needBind bool
	)
	endPass := func() {
		if pass != nil {
			pass.End()
			pass = nil
		}
	}
	beginPass := func() {
		if pass == nil {
			pass = encoder.BeginComputePass(nil)
			needBind = true
		}
		if needBind && kernel != nil {
			pass.SetPipeline(kernel.pipeline)
			for set, g := range groups {
				pass.SetBindGroup(set, g.group, nil)
			}
			needBind = false
		}
	}
	for i, op := range list.Ops {
		switch op.Kind {
		case OpBindKernel:
			k, ok := op.Kernel.(*wgpuKernel)
			if !ok {
				endPass()
				return fmt.Errorf("%s: op %d: kernel belongs to another device", list.Label, i)
			}
			kernel = k
			needBind = true
		case OpBindGroup:
			g, ok := op.Group.(*wgpuBindGroup)
			if !ok {
				endPass()
				return fmt.Errorf("%s: op %d: bind group belongs to another device", list.Label, i)
			}
			groups[op.Set] = g
			needBind = true
		case OpPushConstants:
			endPass()
			return fmt.Errorf("%s: op %d: push constants: %w", list.Label, i, ErrUnsupported)
		case OpDispatch:
			beginPass()
			pass.DispatchWorkgroups(op.Groups[0], op.Groups[1], op.Groups[2])
		case OpDispatchIndirect:
			beginPass()
			pass.DispatchWorkgroupsIndirect(op.Buffer.(*wgpuBuffer).buf, op.Offset)
		case OpBarrier:
			endPass()
		case OpCopyBuffer:
			endPass()
			encoder.CopyBufferToBuffer(op.Src.(*wgpuBuffer).buf, op.SrcOff, op.Dst.(*wgpuBuffer).buf, op.DstOff, op.Size)
		}
	}
	endPass()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	d.Queue.Submit(cmd)
	return nil
}

func (d *WGPUDevice) WaitIdle() error {
	d.Device.Poll(true, nil)
	return nil
}

func (d *WGPUDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.modules {
		m.Release()
	}
	for _, l := range d.layouts {
		l.Release()
	}
	clear(d.modules)
	clear(d.layouts)
	if d.owned {
		d.Device.Release()
		d.Adapter.Release()
		d.Instance.Release()
	}
}
