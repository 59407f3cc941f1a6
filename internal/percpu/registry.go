package percpu

import (
	"sort"
	"sync"

	"github.com/melloos/kernel/internal/ids"
)

// Registry is the global table of online CPUs. Any CPU may read
// another's record through the registry; that is the slower,
// cross-CPU path compared to a CPU dereferencing its own record
// directly.
type Registry struct {
	mu   sync.RWMutex
	cpus map[ids.CpuID]*Cpu
}

func NewRegistry() *Registry { return &Registry{cpus: make(map[ids.CpuID]*Cpu)} }

func (r *Registry) Add(c *Cpu) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cpus[c.ID] = c
}

func (r *Registry) Get(id ids.CpuID) *Cpu {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cpus[id]
}

// All returns every online CPU's record, ordered by ascending id.
// Callers that need to lock more than one CPU's runqueue (rebalance,
// migrate) must acquire them in this order to avoid an ABBA deadlock
// against a CPU doing the same in the opposite order.
func (r *Registry) All() []*Cpu {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Cpu, 0, len(r.cpus))
	for _, c := range r.cpus {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cpus)
}
