// Package shaders embeds the WGSL compute modules the tree builders
// dispatch. Every module is compiled with StructsWGSL prepended.
package shaders

import (
	_ "embed"
)

//go:embed structs.wgsl
var StructsWGSL string

//go:embed plain.wgsl
var PlainWGSL string

//go:embed fraglist.wgsl
var FragListWGSL string

//go:embed octree.wgsl
var OctreeWGSL string

//go:embed contree.wgsl
var ContreeWGSL string

// Source returns a complete module: shared declarations followed by body.
func Source(body string) string {
	return StructsWGSL + "\n" + body
}
