package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profiler accumulates wall time per build stage and named counters.
type Profiler struct {
	mu         sync.Mutex
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Calls      map[string]int
	Counts     map[string]int
	Order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Calls:      make(map[string]int),
		Counts:     make(map[string]int),
		Order:      make([]string, 0),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartTimes[name] = time.Now()
	if _, seen := p.Calls[name]; !seen {
		p.Order = append(p.Order, name)
		p.Calls[name] = 0
	}
}

// EndScope adds the time since the matching BeginScope.
func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start, ok := p.StartTimes[name]; ok {
		p.Scopes[name] += time.Since(start)
		p.Calls[name]++
		delete(p.StartTimes, name)
	}
}

// Scope times the caller until the returned func runs:
//
//	defer p.Scope("tree")()
func (p *Profiler) Scope(name string) func() {
	p.BeginScope(name)
	return func() { p.EndScope(name) }
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Counts[name] = count
}

func (p *Profiler) AddCount(name string, delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Counts[name] += delta
}

func (p *Profiler) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Counts[name]
}

func (p *Profiler) Duration(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Scopes[name]
}

// Reset zeroes timings and counters but keeps the scope order.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
	for k := range p.Calls {
		p.Calls[k] = 0
	}
	p.Counts = make(map[string]int)
}

func (p *Profiler) GetStatsString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sb strings.Builder

	sb.WriteString("Timings:\n")
	for _, name := range p.Order {
		dur := p.Scopes[name]
		ms := float64(dur.Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-15s: %8.2f ms  (%d calls)\n", name, ms, p.Calls[name]))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.Counts[k]))
	}

	return sb.String()
}
