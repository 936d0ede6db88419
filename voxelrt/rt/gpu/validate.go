package gpu

import (
	"fmt"
	"slices"
)

type hazardState struct {
	kernel Kernel
	groups map[uint32]BindGroup
	// buffer -> name of the kernel that wrote it
	shaderPending   map[Buffer]string
	indirectPending map[Buffer]string
}

// Validate replays list symbolically and reports the first dispatch or
// copy that touches a buffer written by an earlier dispatch without the
// barrier that would make the write visible. An indirect dispatch whose
// args buffer is also in one of the kernel's bind groups is rejected.
func Validate(list *CommandList) error {
	st := &hazardState{
		groups:          make(map[uint32]BindGroup),
		shaderPending:   make(map[Buffer]string),
		indirectPending: make(map[Buffer]string),
	}
	for i, op := range list.Ops {
		if err := st.step(op); err != nil {
			return fmt.Errorf("%s: op %d (%s): %w", list.Label, i, op.Kind, err)
		}
	}
	return nil
}

func (st *hazardState) step(op Op) error {
	switch op.Kind {
	case OpBindKernel:
		st.kernel = op.Kernel
	case OpBindGroup:
		st.groups[op.Set] = op.Group
	case OpPushConstants:
	case OpDispatch, OpDispatchIndirect:
		if st.kernel == nil {
			return ErrNoKernelBound
		}
		desc := st.kernel.Desc()
		if op.Kind == OpDispatchIndirect {
			for set := range desc.Groups {
				if g, ok := st.groups[uint32(set)]; ok && slices.Contains(g.Buffers(), op.Buffer) {
					return fmt.Errorf("%w: %s reads indirect args from %s, which set %d also binds",
						ErrUsageConflict, desc.Name, op.Buffer.Label(), set)
				}
			}
			if w, ok := st.indirectPending[op.Buffer]; ok {
				return fmt.Errorf("%w: %s reads indirect args from %s written by %s without an indirect_access barrier",
					ErrMissingBarrier, desc.Name, op.Buffer.Label(), w)
			}
			if w, ok := st.shaderPending[op.Buffer]; ok {
				return fmt.Errorf("%w: %s reads indirect args from %s written by %s without a shader_access barrier",
					ErrMissingBarrier, desc.Name, op.Buffer.Label(), w)
			}
		}
		var written []Buffer
		for set, gl := range desc.Groups {
			g, ok := st.groups[uint32(set)]
			if !ok {
				return fmt.Errorf("kernel %s: set %d not bound", desc.Name, set)
			}
			if g.Layout().Name != gl.Name {
				return fmt.Errorf("kernel %s: set %d expects layout %s, bound %s", desc.Name, set, gl.Name, g.Layout().Name)
			}
			bufs := g.Buffers()
			for j, e := range gl.Entries {
				b := bufs[j]
				if w, ok := st.shaderPending[b]; ok {
					return fmt.Errorf("%w: %s accesses %s written by %s without a shader_access barrier",
						ErrMissingBarrier, desc.Name, b.Label(), w)
				}
				if desc.writes(Slot{Set: uint32(set), Binding: e.Binding}) {
					if e.Kind != BindingStorage {
						return fmt.Errorf("kernel %s writes %s binding %d", desc.Name, e.Kind, e.Binding)
					}
					written = append(written, b)
				}
			}
		}
		for _, b := range written {
			st.shaderPending[b] = desc.Name
			st.indirectPending[b] = desc.Name
		}
	case OpBarrier:
		if op.Barrier&BarrierShaderAccess != 0 {
			clear(st.shaderPending)
		}
		if op.Barrier&BarrierIndirectAccess != 0 {
			clear(st.indirectPending)
		}
	case OpCopyBuffer:
		for _, b := range []Buffer{op.Src, op.Dst} {
			if w, ok := st.shaderPending[b]; ok {
				return fmt.Errorf("%w: copy touches %s written by %s without a shader_access barrier",
					ErrMissingBarrier, b.Label(), w)
			}
		}
	default:
		return fmt.Errorf("unknown op %d", op.Kind)
	}
	return nil
}
