package sched

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/percpu"
)

// Scheduler is the engine behind spawn/tick/yield_now/block/wake/
// migrate. It has no global runqueue; all shared state is either the
// per-CPU RunQueue's own lock or this struct's mu, which protects the
// TaskID -> record map, the records' fields and the sleep timers,
// never runqueue contents.
type Scheduler struct {
	mu       sync.Mutex
	recs     map[ids.TaskID]*record
	registry *percpu.Registry
	log      *logrus.Logger

	sliceTicks     uint32
	rebalanceEvery uint64

	// Bounds how many wakes WakeMany runs concurrently; Rebalance does
	// not use it.
	fanout *semaphore.Weighted

	// globalTicks/timers back SleepTicks (nanosleep): a tick count
	// folded in from every CPU's Tick call, and the deadline each
	// WaitTimer-sleeping task is woken at.
	globalTicks uint64
	timers      map[ids.TaskID]uint64
}

const defaultSliceTicks = 4 // a quantum of 4 ticks, ~40ms at 100Hz

func New(log *logrus.Logger, registry *percpu.Registry, rebalanceEvery uint64) *Scheduler {
	return &Scheduler{
		recs:           make(map[ids.TaskID]*record),
		registry:       registry,
		log:            log,
		sliceTicks:     defaultSliceTicks,
		rebalanceEvery: rebalanceEvery,
		fanout:         semaphore.NewWeighted(8),
	}
}

func (s *Scheduler) rec(t ids.TaskID) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[t]
}

// RegisterIdle installs cpu's idle task. The idle task never appears
// on a runqueue; it is only ever reached through the fallback in
// ReschedulePoint.
func (s *Scheduler) RegisterIdle(cpu ids.CpuID, idle ids.TaskID) {
	s.mu.Lock()
	s.recs[idle] = &record{state: Running, home: cpu, turn: make(chan struct{}, 1)}
	s.mu.Unlock()
	c := s.registry.Get(cpu)
	c.SetIdle(idle)
	c.SetCurrent(idle)
}

// Spawn places a new task on the smallest runqueue (ties broken by
// lowest CPU id), and sends a reschedule IPI to the placement CPU if
// it differs from the caller's.
func (s *Scheduler) Spawn(t ids.TaskID, callerCPU ids.CpuID) ids.CpuID {
	target := s.smallestQueue()

	s.mu.Lock()
	s.recs[t] = &record{state: Ready, home: target, slice: s.sliceTicks, turn: make(chan struct{}, 1)}
	s.mu.Unlock()

	c := s.registry.Get(target)
	c.RunQueue.Lock()
	c.RunQueue.PushBack(t)
	c.RunQueue.Unlock()

	if target != callerCPU {
		c.RequestReschedule()
	}
	return target
}

func (s *Scheduler) smallestQueue() ids.CpuID {
	cpus := s.registry.All()
	best := cpus[0]
	bestLen := best.RunQueue.Len()
	for _, c := range cpus[1:] {
		if l := c.RunQueue.Len(); l < bestLen {
			best, bestLen = c, l
		}
	}
	return best.ID
}

// Tick is invoked from the local timer interrupt: it advances the
// running task's quantum and decides whether a reschedule is due,
// then (every rebalanceEvery ticks, BSP only) triggers rebalancing.
func (s *Scheduler) Tick(cpu ids.CpuID) {
	s.tickTimers(cpu)

	c := s.registry.Get(cpu)
	cur := c.Current()

	s.mu.Lock()
	rec := s.recs[cur]
	if rec != nil && cur != c.Idle {
		rec.ticks++
		if rec.slice > 0 {
			rec.slice--
		}
		if rec.slice == 0 {
			c.RequestReschedule()
		}
	}
	s.mu.Unlock()

	if c.RunQueue.Len() > 0 {
		c.RequestReschedule()
	}

	if cpu == 0 && s.rebalanceEvery > 0 && c.Ticks()%s.rebalanceEvery == 0 {
		s.Rebalance()
	}

	// smp's per-CPU tick loop is the only IRQ-return hook this core
	// exposes, so the reschedule point this tick decided to request
	// (quantum expiry, a non-empty runqueue, or a cross-CPU wake that
	// landed here) runs immediately rather than waiting for a separate
	// callback.
	s.ReschedulePoint(cpu)
}

// ReschedulePoint runs at the IRQ-return path (interrupt handlers
// may wake tasks but must not context-switch; the switch happens
// here) and performs the actual context switch decided by
// Tick/Wake/Migrate/Spawn.
func (s *Scheduler) ReschedulePoint(cpu ids.CpuID) {
	c := s.registry.Get(cpu)
	if !c.TakeReschedule() {
		return
	}

	c.RunQueue.Lock()
	next, ok := c.RunQueue.PopFront()
	c.RunQueue.Unlock()
	if !ok {
		next = c.Idle
	}

	cur := c.Current()
	if next == cur {
		s.mu.Lock()
		if rec := s.recs[cur]; rec != nil {
			rec.slice = s.sliceTicks
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if curRec := s.recs[cur]; curRec != nil && curRec.state == Running {
		curRec.state = Ready
		if cur != c.Idle {
			s.mu.Unlock()
			c.RunQueue.Lock()
			c.RunQueue.PushBack(cur)
			c.RunQueue.Unlock()
			s.mu.Lock()
		}
	}
	nextRec := s.recs[next]
	if nextRec != nil {
		nextRec.state = Running
		nextRec.slice = s.sliceTicks
	}
	s.mu.Unlock()

	c.SetCurrent(next)
	if nextRec != nil {
		select {
		case nextRec.turn <- struct{}{}:
		default:
		}
	}
}

// YieldNow requests a voluntary reschedule on the current CPU and
// runs the reschedule point immediately: a syscall voluntarily giving
// up its quantum does not wait for the next timer tick.
func (s *Scheduler) YieldNow(cpu ids.CpuID) {
	s.registry.Get(cpu).RequestReschedule()
	s.ReschedulePoint(cpu)
}

// WaitTurn blocks the calling goroutine (which represents task t's
// kernel-stack execution) until the scheduler has made t Running on
// its home CPU. There are no language-level coroutines here: a
// task's "context" is just a parked goroutine, and ReschedulePoint's
// handoff is the context switch.
func (s *Scheduler) WaitTurn(t ids.TaskID) {
	rec := s.rec(t)
	if rec == nil {
		return
	}
	<-rec.turn
}

// Block removes t from its runqueue, attaches it to reason, and
// requests a reschedule. Locks are released before suspending: the
// caller suspends in WaitTurn, not while holding the runqueue lock.
func (s *Scheduler) Block(t ids.TaskID, reason WaitReason) {
	rec := s.rec(t)
	if rec == nil {
		return
	}
	c := s.registry.Get(rec.home)

	c.RunQueue.Lock()
	c.RunQueue.Remove(t)
	c.RunQueue.Unlock()

	s.mu.Lock()
	rec.state = Sleeping
	rec.reason = reason
	s.mu.Unlock()

	c.RequestReschedule()
}

// Wake transitions t from Sleeping to Ready, enqueues it on its home
// CPU, and IPIs that CPU if it is not the caller's. The IPI's effect
// (the target CPU running its reschedule point at IRQ return) happens
// inline here, for the same reason Tick and YieldNow run the point
// themselves: this core has no standalone per-CPU IPI handler to defer
// it to, so a wake that only flagged the reschedule would leave the
// wakee parked until an unrelated tick landed.
func (s *Scheduler) Wake(t ids.TaskID, callerCPU ids.CpuID) {
	rec := s.rec(t)
	if rec == nil {
		return
	}
	s.mu.Lock()
	if rec.state != Sleeping {
		s.mu.Unlock()
		return
	}
	rec.state = Ready
	rec.reason = WaitNone
	home := rec.home
	s.mu.Unlock()

	c := s.registry.Get(home)
	c.RunQueue.Lock()
	c.RunQueue.PushBack(t)
	c.RunQueue.Unlock()

	c.RequestReschedule()
	if home != callerCPU {
		s.log.WithField("task", t).WithField("cpu", home).Debug("sched: cross-CPU wake, IPI sent")
	}
	s.ReschedulePoint(home)
}

// WakeMany wakes every task in ids concurrently, bounded by the
// fanout semaphore, for the case where a single event (PTY data
// arrival, a signal sent to a whole process group) must retarget
// several home CPUs at once without serializing the IPIs.
func (s *Scheduler) WakeMany(tasks []ids.TaskID, callerCPU ids.CpuID) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		if err := s.fanout.Acquire(ctx, 1); err != nil {
			s.Wake(t, callerCPU)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.fanout.Release(1)
			s.Wake(t, callerCPU)
		}()
	}
	wg.Wait()
}

// Migrate moves t to target's runqueue; only legal when t is Ready.
// Locks source then target runqueue in ascending CPU-id order to
// prevent ABBA deadlock against a concurrent migrate in the opposite
// direction.
func (s *Scheduler) Migrate(t ids.TaskID, target ids.CpuID) error {
	rec := s.rec(t)
	if rec == nil {
		return kerr.ESRCH
	}

	s.mu.Lock()
	if rec.state != Ready {
		s.mu.Unlock()
		return kerr.EINVAL
	}
	source := rec.home
	s.mu.Unlock()

	if source == target {
		return nil
	}

	cSrc := s.registry.Get(source)
	cDst := s.registry.Get(target)
	first, second := cSrc, cDst
	if target < source {
		first, second = cDst, cSrc
	}
	first.RunQueue.Lock()
	defer first.RunQueue.Unlock()
	second.RunQueue.Lock()
	defer second.RunQueue.Unlock()

	if !cSrc.RunQueue.Remove(t) {
		return kerr.ESRCH
	}
	cDst.RunQueue.PushBack(t)

	s.mu.Lock()
	rec.home = target
	s.mu.Unlock()

	cDst.RequestReschedule()
	return nil
}

// Rebalance scans all CPUs and, if the spread exceeds 2, migrates one
// task from the heaviest to the lightest. Runs on the BSP only,
// gated by Tick.
func (s *Scheduler) Rebalance() {
	cpus := s.registry.All()
	if len(cpus) < 2 {
		return
	}
	var heaviest, lightest *percpu.Cpu
	for _, c := range cpus {
		l := c.RunQueue.Len()
		if heaviest == nil || l > heaviest.RunQueue.Len() {
			heaviest = c
		}
		if lightest == nil || l < lightest.RunQueue.Len() {
			lightest = c
		}
	}
	if heaviest == nil || lightest == nil || heaviest.ID == lightest.ID {
		return
	}
	if heaviest.RunQueue.Len()-lightest.RunQueue.Len() <= 2 {
		return
	}

	// Peek rather than pop: Migrate below does its own removal from
	// heaviest's queue (under its own ascending-lock-order pair), so
	// popping here first would leave nothing for it to find.
	heaviest.RunQueue.Lock()
	victim, ok := heaviest.RunQueue.Front()
	heaviest.RunQueue.Unlock()
	if !ok {
		return
	}

	if err := s.Migrate(victim, lightest.ID); err != nil {
		// Migrate only fails if the task concurrently left Ready state
		// (e.g. a signal stopped it) or was already moved elsewhere;
		// either way it is still wherever it was, nothing to undo.
		return
	}
	s.log.WithFields(logrus.Fields{"task": victim, "from": heaviest.ID, "to": lightest.ID}).Debug("sched: rebalance migrated task")
}

// Stop implements the Stopped transition used by the signal
// subsystem: a stopped task on a runqueue is removed.
func (s *Scheduler) Stop(t ids.TaskID) {
	rec := s.rec(t)
	if rec == nil {
		return
	}
	c := s.registry.Get(rec.home)
	c.RunQueue.Lock()
	c.RunQueue.Remove(t)
	c.RunQueue.Unlock()

	s.mu.Lock()
	rec.state = Stopped
	s.mu.Unlock()

	c.RequestReschedule()
}

// Continue implements the Stopped->Ready transition: continuing sets
// state back to Ready and enqueues. Like Wake, the reschedule the
// continue requested runs inline in place of a real IPI handler.
func (s *Scheduler) Continue(t ids.TaskID) {
	rec := s.rec(t)
	if rec == nil {
		return
	}
	s.mu.Lock()
	if rec.state != Stopped {
		s.mu.Unlock()
		return
	}
	rec.state = Ready
	home := rec.home
	s.mu.Unlock()

	c := s.registry.Get(home)
	c.RunQueue.Lock()
	c.RunQueue.PushBack(t)
	c.RunQueue.Unlock()
	c.RequestReschedule()
	s.ReschedulePoint(home)
}

// Exit transitions t to Zombie. A Zombie must never be on a runqueue
// (the implementation asserts on that), so Exit removes it first.
func (s *Scheduler) Exit(t ids.TaskID) {
	rec := s.rec(t)
	if rec == nil {
		return
	}
	c := s.registry.Get(rec.home)
	c.RunQueue.Lock()
	c.RunQueue.Remove(t)
	c.RunQueue.Unlock()

	s.mu.Lock()
	rec.state = Zombie
	s.mu.Unlock()

	if c.Current() == t {
		c.RequestReschedule()
	}
}

func (s *Scheduler) State(t ids.TaskID) (TaskState, WaitReason) {
	rec := s.rec(t)
	if rec == nil {
		return Zombie, WaitNone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return rec.state, rec.reason
}

func (s *Scheduler) HomeCPU(t ids.TaskID) ids.CpuID {
	rec := s.rec(t)
	if rec == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return rec.home
}

func (s *Scheduler) TicksReceived(t ids.TaskID) uint64 {
	rec := s.rec(t)
	if rec == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return rec.ticks
}

// AssertNoZombieOnRunqueues is the debug-mode invariant check: it
// panics if any runqueue holds a Zombie. Nothing in the kernel calls
// it periodically; it runs only where a caller (such as a test)
// invokes it.
func (s *Scheduler) AssertNoZombieOnRunqueues() {
	for _, c := range s.registry.All() {
		c.RunQueue.Lock()
		for _, t := range c.RunQueue.Snapshot() {
			s.mu.Lock()
			rec := s.recs[t]
			st := Ready
			if rec != nil {
				st = rec.state
			}
			s.mu.Unlock()
			if st == Zombie {
				c.RunQueue.Unlock()
				kerr.Fatal("sched", "zombie task on runqueue")
			}
		}
		c.RunQueue.Unlock()
	}
}
