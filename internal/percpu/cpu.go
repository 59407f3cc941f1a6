// Package percpu implements one-record-per-CPU state and the
// "CPU-local base register" addressing model: each online CPU is
// driven by exactly one dedicated goroutine (pinned to its OS thread
// with runtime.LockOSThread so it behaves like a real CPU core rather
// than hopping across the Go scheduler), and that goroutine is the
// only caller allowed to treat a *Cpu as "mine" for mutable access.
// Other CPUs may only touch the atomic fields.
package percpu

import (
	"sync"
	"sync/atomic"

	"github.com/melloos/kernel/internal/ids"
)

// RunQueue is a per-CPU FIFO of ready task ids, owned by its CPU for
// its own scheduling but reachable from any CPU for cross-CPU wake
// and migrate. Cross-CPU access must hold mu; the owning CPU's own
// enqueue/dequeue of its local work also takes mu so the two paths
// never race.
type RunQueue struct {
	mu          sync.Mutex
	tasks       []ids.TaskID
	contentions atomic.Uint64
}

func (q *RunQueue) Lock() { q.mu.Lock(); q.contentions.Add(1) }
func (q *RunQueue) Unlock() { q.mu.Unlock() }

// PushBack enqueues t at the tail. Caller must hold q's lock.
func (q *RunQueue) PushBack(t ids.TaskID) {
	q.tasks = append(q.tasks, t)
}

// PopFront dequeues the head. Caller must hold q's lock.
func (q *RunQueue) PopFront() (ids.TaskID, bool) {
	if len(q.tasks) == 0 {
		return ids.NoTask, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Front returns the head without removing it, for callers (rebalance)
// that hand the id to a second operation (migrate) which does its own
// removal. Caller must hold q's lock.
func (q *RunQueue) Front() (ids.TaskID, bool) {
	if len(q.tasks) == 0 {
		return ids.NoTask, false
	}
	return q.tasks[0], true
}

// Remove deletes t from anywhere in the queue (used by migrate, which
// must pull a specific Ready task rather than the head). Caller must
// hold q's lock.
func (q *RunQueue) Remove(t ids.TaskID) bool {
	for i, id := range q.tasks {
		if id == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Len takes the lock itself and must not be called with it held. The
// value may be stale by the time the caller acts on it, which is fine
// for placement heuristics; they do not require linearizability
// across CPUs.
func (q *RunQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *RunQueue) Contentions() uint64 { return q.contentions.Load() }

// Snapshot returns a copy of the queue contents. Caller must hold q's
// lock.
func (q *RunQueue) Snapshot() []ids.TaskID {
	out := make([]ids.TaskID, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Cpu is the per-CPU record. Its ID/ApicID/Idle/TickHz fields are
// immutable after construction; Current/Ticks/InInterrupt are atomic
// so any CPU may read them; RunQueue has its own lock. Published
// gates reads until the record is safe to see: reading before
// publication is a fatal programming error.
type Cpu struct {
	ID     ids.CpuID
	ApicID uint8
	TickHz uint32
	Idle   ids.TaskID

	RunQueue RunQueue

	current     atomic.Uint64 // ids.TaskID, 0 == none
	inInterrupt atomic.Bool
	ticks       atomic.Uint64
	published   atomic.Bool
	rescheduled atomic.Bool // set by tick/wake, consumed at IRQ-return
}

func New(id ids.CpuID, apicID uint8, tickHz uint32, idle ids.TaskID) *Cpu {
	return &Cpu{ID: id, ApicID: apicID, TickHz: tickHz, Idle: idle}
}

// SetIdle assigns this CPU's idle task, which is normally spawned
// after bring-up completes (the idle task itself has home_cpu == this
// CPU, so it cannot exist before the CPU record does).
func (c *Cpu) SetIdle(t ids.TaskID) { c.Idle = t }

// Publish marks the record as safe to read. Must be called, with a
// memory fence implied by the atomic store, before this CPU signals
// "online" and before it can take an interrupt.
func (c *Cpu) Publish() { c.published.Store(true) }

// MustBePublished is the fatal-programming-error assertion: reading
// an unpublished Cpu record cannot happen in a correct kernel.
func (c *Cpu) MustBePublished() {
	if !c.published.Load() {
		panic("percpu: read of unpublished Cpu record")
	}
}

func (c *Cpu) Current() ids.TaskID {
	c.MustBePublished()
	return ids.TaskID(c.current.Load())
}

func (c *Cpu) SetCurrent(t ids.TaskID) {
	c.MustBePublished()
	c.current.Store(uint64(t))
}

func (c *Cpu) InInterrupt() bool    { return c.inInterrupt.Load() }
func (c *Cpu) SetInInterrupt(v bool) { c.inInterrupt.Store(v) }

func (c *Cpu) Ticks() uint64 { return c.ticks.Load() }
func (c *Cpu) TickOnce() uint64 { return c.ticks.Add(1) }

// RequestReschedule marks that the reschedule point (the IRQ-return
// path; interrupt handlers may wake tasks but must not
// context-switch) should run the scheduler before resuming user code.
func (c *Cpu) RequestReschedule() { c.rescheduled.Store(true) }

// TakeReschedule consumes the pending-reschedule flag, returning
// whether a switch is due. Called only from the IRQ-return path.
func (c *Cpu) TakeReschedule() bool { return c.rescheduled.Swap(false) }
