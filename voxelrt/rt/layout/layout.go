// Package layout is a small reflection-driven serializer for WGSL
// host-shareable structs. Struct declarations are parsed from WGSL source,
// laid out with the WGSL alignment rules, and individual members are then
// written or read by symbolic path ("info.dim", "levels[2]").
package layout

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type typeLayout struct {
	size  uint64
	align uint64
}

// primitiveLayouts maps WGSL scalar, vector, matrix and atomic types to
// their size and alignment.
//
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size
var primitiveLayouts = map[string]typeLayout{
	"f32":  {4, 4},
	"i32":  {4, 4},
	"u32":  {4, 4},
	"f16":  {2, 2},
	"bool": {4, 4},

	"vec2<f32>": {8, 8},
	"vec2f":     {8, 8},
	"vec3<f32>": {12, 16},
	"vec3f":     {12, 16},
	"vec4<f32>": {16, 16},
	"vec4f":     {16, 16},

	"vec2<i32>": {8, 8},
	"vec2i":     {8, 8},
	"vec3<i32>": {12, 16},
	"vec3i":     {12, 16},
	"vec4<i32>": {16, 16},
	"vec4i":     {16, 16},

	"vec2<u32>": {8, 8},
	"vec2u":     {8, 8},
	"vec3<u32>": {12, 16},
	"vec3u":     {12, 16},
	"vec4<u32>": {16, 16},
	"vec4u":     {16, 16},

	"mat2x2<f32>": {16, 8},
	"mat3x3<f32>": {48, 16},
	"mat4x4<f32>": {64, 16},

	"atomic<u32>": {4, 4},
	"atomic<i32>": {4, 4},
}

// scalarKinds gives the component type and count of every primitive that
// DataBuilder can write.
var scalarKinds = map[string]struct {
	elem string
	n    int
}{
	"f32": {"f32", 1}, "i32": {"i32", 1}, "u32": {"u32", 1}, "bool": {"u32", 1},
	"atomic<u32>": {"u32", 1}, "atomic<i32>": {"i32", 1},
	"vec2<f32>": {"f32", 2}, "vec2f": {"f32", 2}, "vec3<f32>": {"f32", 3}, "vec3f": {"f32", 3}, "vec4<f32>": {"f32", 4}, "vec4f": {"f32", 4},
	"vec2<i32>": {"i32", 2}, "vec2i": {"i32", 2}, "vec3<i32>": {"i32", 3}, "vec3i": {"i32", 3}, "vec4<i32>": {"i32", 4}, "vec4i": {"i32", 4},
	"vec2<u32>": {"u32", 2}, "vec2u": {"u32", 2}, "vec3<u32>": {"u32", 3}, "vec3u": {"u32", 3}, "vec4<u32>": {"u32", 4}, "vec4u": {"u32", 4},
}

func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// Type is a resolved WGSL type.
type Type struct {
	Name  string
	Size  uint64
	Align uint64

	Struct *Struct // set for struct types
	Elem   *Type   // set for arrays
	Len    uint64  // array length, 0 for runtime-sized arrays
	Stride uint64  // array element stride
}

func (t *Type) IsArray() bool { return t.Elem != nil }

type Field struct {
	Name   string
	Offset uint64
	Type   *Type
}

type Struct struct {
	Name   string
	Fields []Field
	Size   uint64
	Align  uint64
}

func (s *Struct) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Registry holds every struct found in one or more WGSL sources.
type Registry struct {
	structs map[string]*Struct
}

// Parse lays out every struct declared in source. Structs may reference
// each other in any order.
func Parse(source string) (*Registry, error) {
	r := &Registry{structs: make(map[string]*Struct)}
	remaining := parseStructBlocks(source)
	for len(remaining) > 0 {
		progress := false
		next := remaining[:0]
		for _, ps := range remaining {
			if s, ok := r.computeStruct(ps); ok {
				r.structs[ps.name] = s
				progress = true
			} else {
				next = append(next, ps)
			}
		}
		remaining = next
		if !progress {
			names := make([]string, 0, len(remaining))
			for _, ps := range remaining {
				names = append(names, ps.name)
			}
			return nil, fmt.Errorf("unresolved struct types: %s", strings.Join(names, ", "))
		}
	}
	return r, nil
}

func MustParse(source string) *Registry {
	r, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Struct(name string) (*Struct, bool) {
	s, ok := r.structs[name]
	return s, ok
}

func (r *Registry) MustStruct(name string) *Struct {
	s, ok := r.structs[name]
	if !ok {
		panic(fmt.Sprintf("layout: struct %s not declared", name))
	}
	return s
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.structs))
	for n := range r.structs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) resolveType(name string) (*Type, bool) {
	if l, ok := primitiveLayouts[name]; ok {
		return &Type{Name: name, Size: l.size, Align: l.align}, true
	}
	if s, ok := r.structs[name]; ok {
		return &Type{Name: name, Size: s.Size, Align: s.Align, Struct: s}, true
	}
	if strings.HasPrefix(name, "array<") && strings.HasSuffix(name, ">") {
		parts := splitAtTopLevelCommas(name[6 : len(name)-1])
		elem, ok := r.resolveType(parts[0])
		if !ok {
			return nil, false
		}
		stride := roundUpAlign(elem.Align, elem.Size)
		t := &Type{Name: name, Align: elem.Align, Elem: elem, Stride: stride}
		if len(parts) == 2 {
			n, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, false
			}
			t.Len = n
			t.Size = n * stride
		} else {
			// runtime-sized: one element is the minimum binding size
			t.Size = stride
		}
		return t, true
	}
	return nil, false
}

func (r *Registry) computeStruct(ps parsedStruct) (*Struct, bool) {
	s := &Struct{Name: ps.name, Align: 1}
	var offset uint64
	for i, f := range ps.fields {
		t, ok := r.resolveType(f.typeName)
		if !ok {
			return nil, false
		}
		offset = roundUpAlign(t.Align, offset)
		s.Fields = append(s.Fields, Field{Name: f.name, Offset: offset, Type: t})
		// a runtime-sized tail array adds nothing to the fixed size
		if !(t.IsArray() && t.Len == 0 && i == len(ps.fields)-1) {
			offset += t.Size
		}
		if t.Align > s.Align {
			s.Align = t.Align
		}
	}
	s.Size = roundUpAlign(s.Align, offset)
	return s, true
}

// Locate resolves a member path such as "state.level_begin" or
// "counters[3]" to an absolute byte offset and the member's type.
func (s *Struct) Locate(path string) (uint64, *Type, error) {
	if path == "" {
		return 0, nil, fmt.Errorf("empty field path on %s", s.Name)
	}
	cur := &Type{Name: s.Name, Size: s.Size, Align: s.Align, Struct: s}
	var offset uint64
	for _, seg := range strings.Split(path, ".") {
		name, indices, err := splitIndices(seg)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: %w", path, err)
		}
		if cur.Struct == nil {
			return 0, nil, fmt.Errorf("%s: %s is not a struct", path, cur.Name)
		}
		f, ok := cur.Struct.field(name)
		if !ok {
			return 0, nil, fmt.Errorf("%s: struct %s has no field %s", path, cur.Struct.Name, name)
		}
		offset += f.Offset
		cur = f.Type
		for _, idx := range indices {
			if !cur.IsArray() {
				return 0, nil, fmt.Errorf("%s: %s is not an array", path, cur.Name)
			}
			if cur.Len != 0 && idx >= cur.Len {
				return 0, nil, fmt.Errorf("%s: index %d out of range for %s", path, idx, cur.Name)
			}
			offset += idx * cur.Stride
			cur = cur.Elem
		}
	}
	return offset, cur, nil
}

// Offset is Locate for paths known to be valid at compile time.
func (s *Struct) Offset(path string) uint64 {
	off, _, err := s.Locate(path)
	if err != nil {
		panic(err)
	}
	return off
}

func splitIndices(seg string) (string, []uint64, error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, nil
	}
	name := seg[:open]
	var indices []uint64
	rest := seg[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed index in %q", seg)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, fmt.Errorf("unterminated index in %q", seg)
		}
		n, err := strconv.ParseUint(rest[1:end], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad index in %q: %w", seg, err)
		}
		indices = append(indices, n)
		rest = rest[end+1:]
	}
	return name, indices, nil
}
