package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
)

func TestCommandLists_IndirectArgsStayUnbound(t *testing.T) {
	r := newRig(t, 1)
	ob := NewOctreeBuilder(r.dev, r.frags, smallOctreeOptions(), nil)
	cb := NewContreeBuilder(r.dev, r.atlas, smallContreeOptions(), nil)

	lists := map[string]func() (*gpu.CommandList, error){
		"octree":   func() (*gpu.CommandList, error) { return ob.record(4) },
		"contree":  func() (*gpu.CommandList, error) { return cb.record(3) },
		"probe":    func() (*gpu.CommandList, error) { return cb.probe, nil },
		"fraglist": r.frags.commands,
		"plain":    r.plain.commands,
	}
	for name, get := range lists {
		list, err := get()
		require.NoError(t, err, name)

		groups := make(map[uint32]gpu.BindGroup)
		indirect, copied := 0, 0
		for i, op := range list.Ops {
			switch op.Kind {
			case gpu.OpBindGroup:
				groups[op.Set] = op.Group
			case gpu.OpCopyBuffer:
				copied++
			case gpu.OpDispatchIndirect:
				indirect++
				for set, g := range groups {
					assert.NotContains(t, g.Buffers(), op.Buffer, "%s op %d: %s bound at set %d", name, i, op.Buffer.Label(), set)
				}
			}
		}
		assert.Positive(t, indirect, name)
		assert.Positive(t, copied, name)
	}
}

func TestDispatchArgs_PublishCopiesCounts(t *testing.T) {
	r := newRig(t, 1)
	a := newDispatchArgs(r.dev, "counts")
	require.NoError(t, r.dev.WriteBuffer(a.staging, 0, []byte{3, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0}))

	list, err := publish(gpu.NewRecorder("publish"), a).Finish()
	require.NoError(t, err)
	require.NoError(t, gpu.SubmitAndWait(r.dev, list))

	raw, err := r.dev.ReadBuffer(a.indirect, 0, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0}, raw)
}
