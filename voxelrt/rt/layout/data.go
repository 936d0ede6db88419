package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// DataBuilder fills the bytes of one struct instance member by member.
type DataBuilder struct {
	s   *Struct
	buf []byte
}

func NewDataBuilder(s *Struct) *DataBuilder {
	return &DataBuilder{s: s, buf: make([]byte, s.Size)}
}

func (b *DataBuilder) Struct() *Struct { return b.s }

// Bytes returns the backing buffer; later SetField calls keep writing to it.
func (b *DataBuilder) Bytes() []byte { return b.buf }

// Reset zeroes every byte.
func (b *DataBuilder) Reset() {
	clear(b.buf)
}

// SetField writes value at the member named by path. Accepted values:
// uint32, int32, int, float32, bool, core.UVec3, [N]uint32, [N]int32,
// [N]float32, mgl32.Vec2/3/4. The Go value must match the member's
// component type and count.
func (b *DataBuilder) SetField(path string, value any) error {
	off, t, err := b.s.Locate(path)
	if err != nil {
		return err
	}
	kind, ok := scalarKinds[t.Name]
	if !ok {
		return fmt.Errorf("%s.%s: cannot write member of type %s", b.s.Name, path, t.Name)
	}
	words, elem, err := toWords(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", b.s.Name, path, err)
	}
	if len(words) != kind.n || (elem != kind.elem && !(elem == "int" && kind.elem != "f32")) {
		return fmt.Errorf("%s.%s: %T does not match %s", b.s.Name, path, value, t.Name)
	}
	if off+uint64(len(words))*4 > uint64(len(b.buf)) {
		return fmt.Errorf("%s.%s: offset %d past end of %d-byte buffer", b.s.Name, path, off, len(b.buf))
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(b.buf[off+uint64(i)*4:], w)
	}
	return nil
}

// MustSetField panics on error; for members fixed at compile time.
func (b *DataBuilder) MustSetField(path string, value any) *DataBuilder {
	if err := b.SetField(path, value); err != nil {
		panic(err)
	}
	return b
}

func toWords(value any) ([]uint32, string, error) {
	switch v := value.(type) {
	case uint32:
		return []uint32{v}, "u32", nil
	case int32:
		return []uint32{uint32(v)}, "i32", nil
	case int:
		if v < math.MinInt32 || v > math.MaxUint32 {
			return nil, "", fmt.Errorf("int %d overflows 32 bits", v)
		}
		return []uint32{uint32(v)}, "int", nil
	case bool:
		if v {
			return []uint32{1}, "u32", nil
		}
		return []uint32{0}, "u32", nil
	case float32:
		return []uint32{math.Float32bits(v)}, "f32", nil
	case core.UVec3:
		return []uint32{v.X, v.Y, v.Z}, "u32", nil
	case [2]uint32:
		return v[:], "u32", nil
	case [3]uint32:
		return v[:], "u32", nil
	case [4]uint32:
		return v[:], "u32", nil
	case [3]int32:
		return []uint32{uint32(v[0]), uint32(v[1]), uint32(v[2])}, "i32", nil
	case mgl32.Vec2:
		return floatWords(v[:]), "f32", nil
	case mgl32.Vec3:
		return floatWords(v[:]), "f32", nil
	case mgl32.Vec4:
		return floatWords(v[:]), "f32", nil
	}
	return nil, "", fmt.Errorf("unsupported value type %T", value)
}

func floatWords(fs []float32) []uint32 {
	out := make([]uint32, len(fs))
	for i, f := range fs {
		out[i] = math.Float32bits(f)
	}
	return out
}

// DataReader reads members back out of a struct instance's bytes, e.g.
// a build result copied back from the device.
type DataReader struct {
	s    *Struct
	data []byte
}

func NewDataReader(s *Struct, data []byte) *DataReader {
	return &DataReader{s: s, data: data}
}

func (r *DataReader) words(path string, n int) ([]uint32, error) {
	off, t, err := r.s.Locate(path)
	if err != nil {
		return nil, err
	}
	kind, ok := scalarKinds[t.Name]
	if !ok || kind.n != n {
		return nil, fmt.Errorf("%s.%s: member of type %s is not %d components wide", r.s.Name, path, t.Name, n)
	}
	end := off + uint64(n)*4
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("%s.%s: need %d bytes, have %d", r.s.Name, path, end, len(r.data))
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(r.data[off+uint64(i)*4:])
	}
	return out, nil
}

func (r *DataReader) U32(path string) (uint32, error) {
	w, err := r.words(path, 1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

func (r *DataReader) F32(path string) (float32, error) {
	w, err := r.words(path, 1)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(w[0]), nil
}

func (r *DataReader) UVec3(path string) (core.UVec3, error) {
	w, err := r.words(path, 3)
	if err != nil {
		return core.UVec3{}, err
	}
	return core.UVec3{X: w[0], Y: w[1], Z: w[2]}, nil
}
