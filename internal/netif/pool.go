package netif

import (
	"fmt"
	"sync"
)

// IndexPool hands out virtual interface indexes. Indexes start at an
// offset so managed devices never collide with interfaces created by
// other software on low utun/tun numbers.
type IndexPool struct {
	mu     sync.Mutex
	offset int
	inUse  map[int]bool
}

// NewIndexPool creates a pool whose smallest index is offset.
func NewIndexPool(offset int) *IndexPool {
	return &IndexPool{
		offset: offset,
		inUse:  make(map[int]bool),
	}
}

// Acquire returns the smallest free index.
func (p *IndexPool) Acquire() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.offset
	for p.inUse[idx] {
		idx++
	}
	p.inUse[idx] = true
	return idx
}

// Reserve marks a specific index as in use. Used when re-adopting an
// interface whose index was assigned by a previous process.
func (p *IndexPool) Reserve(idx int) {
	p.mu.Lock()
	p.inUse[idx] = true
	p.mu.Unlock()
}

// Release returns an index to the pool. Releasing a free index is a no-op.
func (p *IndexPool) Release(idx int) {
	p.mu.Lock()
	delete(p.inUse, idx)
	p.mu.Unlock()
}

// InUse reports whether the index is currently held.
func (p *IndexPool) InUse(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse[idx]
}

// Subnet describes the addressing derived from an interface index. Each
// interface gets a /24 inside the 198.18.0.0/15 benchmarking range,
// which real traffic never uses.
type Subnet struct {
	Index   int
	CIDR    string // 198.18.<idx>.0/24
	Gateway string // 198.18.<idx>.1
	Address string // 198.18.<idx>.2
}

// DeriveSubnet maps an interface index to its dedicated /24.
func DeriveSubnet(idx int) Subnet {
	return Subnet{
		Index:   idx,
		CIDR:    fmt.Sprintf("198.18.%d.0/24", idx),
		Gateway: fmt.Sprintf("198.18.%d.1", idx),
		Address: fmt.Sprintf("198.18.%d.2", idx),
	}
}
