// Package kernels defines the compute modules used by the builders: their
// bind group layouts, per-entry-point descriptors, and the CPU bodies the
// soft device runs in place of the WGSL.
package kernels

import (
	"fmt"
	"sort"

	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"
	"github.com/gekko3d/voxbuild/voxelrt/rt/shaders"
)

const (
	wgLinear    = 64
	wgVolume    = 4
	maxGroupDim = 65535

	occupied    = 0x80000000
	ptrMask     = 0x7fffffff
	contreeLeaf = 0x80000000

	MaxContreeLevels = 16
)

var (
	one    = [3]uint32{1, 1, 1}
	linear = [3]uint32{wgLinear, 1, 1}
	volume = [3]uint32{wgVolume, wgVolume, wgVolume}
)

// Structs is the host view of the shared WGSL declarations.
var Structs = layout.MustParse(shaders.StructsWGSL)

type entry struct {
	name      string
	workgroup [3]uint32
	writes    []uint32
	body      gpu.KernelFunc
}

// Module is one WGSL compute module with a single bind group at set 0.
type Module struct {
	Name   string
	Source string
	Layout gpu.GroupLayout
	descs  map[string]gpu.KernelDesc
	bodies map[string]gpu.KernelFunc
}

func newModule(name, body string, bindings []gpu.LayoutEntry, entries []entry) *Module {
	m := &Module{
		Name:   name,
		Source: shaders.Source(body),
		Layout: gpu.GroupLayout{Name: name, Entries: bindings},
		descs:  make(map[string]gpu.KernelDesc, len(entries)),
		bodies: make(map[string]gpu.KernelFunc, len(entries)),
	}
	for _, e := range entries {
		d := gpu.KernelDesc{
			Name:          name + "." + e.name,
			EntryPoint:    e.name,
			Source:        m.Source,
			WorkgroupSize: e.workgroup,
			Groups:        []gpu.GroupLayout{m.Layout},
		}
		for _, b := range e.writes {
			d.Writes = append(d.Writes, gpu.Slot{Binding: b})
		}
		m.descs[e.name] = d
		m.bodies[d.Name] = e.body
	}
	return m
}

// Desc returns the descriptor for entry point ep. Unknown names panic.
func (m *Module) Desc(ep string) gpu.KernelDesc {
	d, ok := m.descs[ep]
	if !ok {
		panic(fmt.Sprintf("module %s has no entry point %q", m.Name, ep))
	}
	return d
}

func (m *Module) EntryPoints() []string {
	out := make([]string, 0, len(m.descs))
	for ep := range m.descs {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// Modules lists every compute module.
func Modules() []*Module {
	return []*Module{Plain, FragList, Octree, Contree}
}

// Registry maps kernel names to CPU bodies for the soft device.
func Registry() map[string]gpu.KernelFunc {
	out := make(map[string]gpu.KernelFunc)
	for _, m := range Modules() {
		for name, fn := range m.bodies {
			out[name] = fn
		}
	}
	return out
}

func word(structName, path string) uint32 {
	return uint32(Structs.MustStruct(structName).Offset(path) / 4)
}

func loadVec3(m *gpu.Memory, w uint32) [3]uint32 {
	return [3]uint32{m.Load(w), m.Load(w + 1), m.Load(w + 2)}
}

func storeArgs(m *gpu.Memory, x, y, z uint32) {
	m.Store(0, x)
	m.Store(1, y)
	m.Store(2, z)
}

func divCeil(a, b uint32) uint32 { return (a + b - 1) / b }

// storeLinearArgs writes indirect args covering n invocations of a 1-D
// kernel, spilling into y past the per-dimension group limit.
func storeLinearArgs(m *gpu.Memory, n uint32) {
	groups := divCeil(n, wgLinear)
	if groups <= maxGroupDim {
		storeArgs(m, groups, 1, 1)
		return
	}
	storeArgs(m, maxGroupDim, divCeil(groups, maxGroupDim), 1)
}

func linearID(inv *gpu.Invocation) uint32 {
	return inv.GlobalID[0] + inv.GlobalID[1]*inv.NumGroups[0]*wgLinear
}

func atlasIndex(p, dim [3]uint32) uint32 {
	return p[0] + p[1]*dim[0] + p[2]*dim[0]*dim[1]
}

func anyGE(a, b [3]uint32) bool {
	return a[0] >= b[0] || a[1] >= b[1] || a[2] >= b[2]
}
