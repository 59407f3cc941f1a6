package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/percpu"
)

// TestScenarioFourBusyLoopsOnTwoCPUs drives a two-CPU system with four
// always-runnable tasks through a simulated second of 100Hz ticks:
// size-based placement settles at two tasks per CPU, the rebalancer
// finds nothing to move once settled, and tick time is shared evenly
// across all four tasks.
func TestScenarioFourBusyLoopsOnTwoCPUs(t *testing.T) {
	reg := percpu.NewRegistry()
	newTestCPU(reg, 0)
	newTestCPU(reg, 1)
	s := New(testLog(), reg, 10)
	s.RegisterIdle(0, ids.TaskID(9998))
	s.RegisterIdle(1, ids.TaskID(9999))

	tasks := []ids.TaskID{1, 2, 3, 4}
	for _, id := range tasks {
		s.Spawn(id, 0)
	}
	require.Equal(t, 2, reg.Get(0).RunQueue.Len(), "placement alternates the two empty queues")
	require.Equal(t, 2, reg.Get(1).RunQueue.Len())

	homeBefore := map[ids.TaskID]ids.CpuID{}
	for _, id := range tasks {
		homeBefore[id] = s.HomeCPU(id)
	}

	// One second of interleaved per-CPU timer interrupts, mirroring the
	// IRQ path: the CPU's own tick counter advances, then the scheduler
	// tick runs.
	for i := 0; i < 100; i++ {
		for _, cpu := range []ids.CpuID{0, 1} {
			reg.Get(cpu).TickOnce()
			s.Tick(cpu)
		}
	}

	for _, id := range tasks {
		require.Equal(t, homeBefore[id], s.HomeCPU(id),
			"the rebalancer must not migrate anything in a balanced steady state")
	}
	require.Equal(t, 1, reg.Get(0).RunQueue.Len(), "one task running, one waiting per CPU")
	require.Equal(t, 1, reg.Get(1).RunQueue.Len())

	var min, max uint64
	for i, id := range tasks {
		got := s.TicksReceived(id)
		if i == 0 || got < min {
			min = got
		}
		if got > max {
			max = got
		}
	}
	require.Greater(t, min, uint64(0), "every task must have received CPU time")
	require.LessOrEqual(t, (max-min)*100, max*5, "tick shares must stay within five percent of each other")
}
