package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProfiler_Scopes(t *testing.T) {
	p := NewProfiler()
	for range 3 {
		end := p.Scope("tree")
		time.Sleep(time.Millisecond)
		end()
	}
	p.BeginScope("plain")
	p.EndScope("plain")
	p.EndScope("never-started")

	assert.Equal(t, 3, p.Calls["tree"])
	assert.GreaterOrEqual(t, p.Duration("tree"), 3*time.Millisecond)
	assert.Equal(t, []string{"tree", "plain"}, p.Order)
	assert.NotContains(t, p.Scopes, "never-started")

	s := p.GetStatsString()
	assert.Less(t, strings.Index(s, "tree"), strings.Index(s, "plain"))
	assert.Contains(t, s, "(3 calls)")
}

func TestProfiler_Counts(t *testing.T) {
	p := NewProfiler()
	p.AddCount("voxels", 10)
	p.AddCount("voxels", 5)
	p.SetCount("chunks", 2)
	assert.Equal(t, 15, p.Count("voxels"))
	assert.Equal(t, 2, p.Count("chunks"))
	assert.Contains(t, p.GetStatsString(), "voxels")

	p.Reset()
	assert.Zero(t, p.Count("voxels"))
	assert.Zero(t, p.Duration("tree"))
}
