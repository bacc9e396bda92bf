package gate

import (
	"sync"

	"github.com/gatewright/gatewright/internal/obs"
)

// Pool is a bounded in-memory audit ring for DROP/SINK Observations. Pools
// exist for introspection only: nothing downstream reads them to make
// decisions.
type Pool struct {
	mu    sync.Mutex
	items []obs.Observation
	head  int
	count int
}

// NewPool creates a Pool bounded to maxLen entries (default 200).
func NewPool(maxLen int) *Pool {
	if maxLen <= 0 {
		maxLen = 200
	}
	return &Pool{items: make([]obs.Observation, maxLen)}
}

// Ingest appends an Observation, evicting the oldest entry once full.
func (p *Pool) Ingest(o obs.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := len(p.items)
	idx := (p.head + p.count) % size
	if p.count < size {
		p.items[idx] = o
		p.count++
	} else {
		p.items[p.head] = o
		p.head = (p.head + 1) % size
	}
}

// Recent returns up to limit most recently ingested Observations, newest
// last.
func (p *Pool) Recent(limit int) []obs.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > p.count {
		limit = p.count
	}
	out := make([]obs.Observation, limit)
	start := (p.head + p.count - limit) % len(p.items)
	for i := 0; i < limit; i++ {
		out[i] = p.items[(start+i)%len(p.items)]
	}
	return out
}
