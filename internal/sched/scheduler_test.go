package sched

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/percpu"
)

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newTestCPU builds a published, registered CPU with idle task id
// 9999, mirroring the fixture every other package's tests use so a
// Scheduler here behaves the same as the one ksyscall/task/pty drive.
func newTestCPU(reg *percpu.Registry, id ids.CpuID) *percpu.Cpu {
	c := percpu.New(id, uint8(id), 100, ids.TaskID(9999))
	reg.Add(c)
	c.Publish()
	return c
}

func TestSpawnPlacesOnSmallestQueueAndReschedulePointRunsIt(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))

	child := ids.TaskID(1)
	cpu := s.Spawn(child, 0)
	require.Equal(t, ids.CpuID(0), cpu)

	st, _ := s.State(child)
	require.Equal(t, Ready, st)
	require.Equal(t, ids.TaskID(9999), reg.Get(0).Current())

	// Nothing runs until a reschedule point actually executes: Spawn
	// only enqueues and, same-CPU, never sets the flag itself.
	reg.Get(0).RequestReschedule()
	s.ReschedulePoint(0)

	require.Equal(t, child, reg.Get(0).Current())
	st, _ = s.State(child)
	require.Equal(t, Running, st)
}

func TestTickDrivesTaskToRunningAndBackToReady(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))
	s.sliceTicks = 1 // force quantum expiry on the very first tick

	a := ids.TaskID(1)
	b := ids.TaskID(2)
	s.Spawn(a, 0)
	s.Spawn(b, 0)

	// Tick now performs the reschedule itself (this is the fix this
	// test exists to pin down): no separate ReschedulePoint call is
	// needed, unlike before a was ever made Running.
	s.Tick(0)
	require.Equal(t, a, reg.Get(0).Current())
	stA, _ := s.State(a)
	require.Equal(t, Running, stA)

	// a's one-tick quantum expires on this tick, which also drains the
	// non-empty runqueue flag, so b becomes current and a is requeued.
	s.Tick(0)
	require.Equal(t, b, reg.Get(0).Current())
	stA, _ = s.State(a)
	require.Equal(t, Ready, stA)
	stB, _ := s.State(b)
	require.Equal(t, Running, stB)
}

func TestYieldNowSwitchesImmediatelyWithoutWaitingForATick(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))

	a := ids.TaskID(1)
	b := ids.TaskID(2)
	s.Spawn(a, 0)
	s.Spawn(b, 0)
	reg.Get(0).RequestReschedule()
	s.ReschedulePoint(0) // a becomes current
	require.Equal(t, a, reg.Get(0).Current())

	s.YieldNow(0)
	require.Equal(t, b, reg.Get(0).Current())
	stA, _ := s.State(a)
	require.Equal(t, Ready, stA)
}

func TestWaitTurnUnblocksOnlyAfterReschedulePointSignalsIt(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))

	child := ids.TaskID(1)
	s.Spawn(child, 0)

	done := make(chan struct{})
	go func() {
		s.WaitTurn(child)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitTurn returned before any reschedule point ran")
	default:
	}

	reg.Get(0).RequestReschedule()
	s.ReschedulePoint(0)
	<-done // must not hang
}

func TestBlockRemovesFromRunqueueAndWakeReenqueues(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))

	child := ids.TaskID(1)
	s.Spawn(child, 0)
	require.Equal(t, 1, reg.Get(0).RunQueue.Len())

	s.Block(child, WaitPTYRead)
	st, reason := s.State(child)
	require.Equal(t, Sleeping, st)
	require.Equal(t, WaitPTYRead, reason)
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())

	// Wake re-enqueues and runs the reschedule point in place of the
	// IPI handler, so the only runnable task becomes current at once.
	s.Wake(child, 0)
	st, _ = s.State(child)
	require.Equal(t, Running, st)
	require.Equal(t, child, reg.Get(0).Current())
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())

	// Waking a task that is not Sleeping is a no-op, not a double
	// enqueue.
	s.Wake(child, 0)
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())
	require.Equal(t, child, reg.Get(0).Current())
}

func TestStopAndContinueRoundTrip(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))

	child := ids.TaskID(1)
	s.Spawn(child, 0)

	s.Stop(child)
	st, _ := s.State(child)
	require.Equal(t, Stopped, st)
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())

	// Continue re-enqueues and, like Wake, runs the reschedule point
	// itself; a second Continue on a non-Stopped task is a no-op.
	s.Continue(child)
	s.Continue(child)
	st, _ = s.State(child)
	require.Equal(t, Running, st)
	require.Equal(t, child, reg.Get(0).Current())
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())
}

func TestMigrateMovesHomeCPUInAscendingLockOrder(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	newTestCPU(reg, 1)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9998))
	s.RegisterIdle(1, ids.TaskID(9999))

	child := ids.TaskID(1)
	s.Spawn(child, 0)
	require.Equal(t, ids.CpuID(0), s.HomeCPU(child))

	require.NoError(t, s.Migrate(child, 1))
	require.Equal(t, ids.CpuID(1), s.HomeCPU(child))
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())
	require.Equal(t, 1, reg.Get(1).RunQueue.Len())

	// Migrating a non-Ready task is rejected.
	s.Stop(child)
	require.Error(t, s.Migrate(child, 0))
}

func TestRebalanceMovesOneTaskFromHeaviestToLightest(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	newTestCPU(reg, 1)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9998))
	s.RegisterIdle(1, ids.TaskID(9999))

	for i := ids.TaskID(1); i <= 4; i++ {
		s.mu.Lock()
		s.recs[i] = &record{state: Ready, home: 0, turn: make(chan struct{}, 1)}
		s.mu.Unlock()
		reg.Get(0).RunQueue.Lock()
		reg.Get(0).RunQueue.PushBack(i)
		reg.Get(0).RunQueue.Unlock()
	}
	require.Equal(t, 4, reg.Get(0).RunQueue.Len())
	require.Equal(t, 0, reg.Get(1).RunQueue.Len())

	s.Rebalance()

	require.Equal(t, 3, reg.Get(0).RunQueue.Len())
	require.Equal(t, 1, reg.Get(1).RunQueue.Len())
}

func TestExitTransitionsToZombieAndAssertionCatchesViolations(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	s := New(testLog(), reg, 0)
	s.RegisterIdle(0, ids.TaskID(9999))

	child := ids.TaskID(1)
	s.Spawn(child, 0)
	s.Exit(child)

	st, _ := s.State(child)
	require.Equal(t, Zombie, st)
	require.Equal(t, 0, reg.Get(0).RunQueue.Len())

	require.NotPanics(t, s.AssertNoZombieOnRunqueues)
}
