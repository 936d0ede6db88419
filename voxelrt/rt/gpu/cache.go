package gpu

import (
	"sync"
)

// CommandCache keeps prerecorded command lists by key (the tree level
// count for the builders). Entries are recorded on first use and replayed
// afterwards.
type CommandCache struct {
	mu     sync.Mutex
	lists  map[uint32]*CommandList
	hits   int
	misses int
}

func NewCommandCache() *CommandCache {
	return &CommandCache{lists: make(map[uint32]*CommandList)}
}

// GetOrRecord returns the list for key, calling record on a miss. A
// failed recording is not cached.
func (c *CommandCache) GetOrRecord(key uint32, record func() (*CommandList, error)) (*CommandList, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lists[key]; ok {
		c.hits++
		return l, true, nil
	}
	c.misses++
	l, err := record()
	if err != nil {
		return nil, false, err
	}
	c.lists[key] = l
	return l, false, nil
}

func (c *CommandCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lists)
}

func (c *CommandCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CommandCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.lists)
}
