package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/percpu"
	"github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
)

// pump drives reschedule turns on cpu until cond holds, standing in
// for the timer-interrupt loop a booted kernel would run.
func pump(t *testing.T, reg *percpu.Registry, s *sched.Scheduler, cpu ids.CpuID, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		kick(reg, cpu, s)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

// TestScenarioIntrCharTerminatesForegroundSessionChild walks the full
// job-control path: fork, setsid, controlling-terminal acquisition,
// foreground handoff, then an INTR byte written to the master
// terminating the foreground child with SIGINT, observed via wait4.
func TestScenarioIntrCharTerminatesForegroundSessionChild(t *testing.T) {
	tb, reg, s := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)
	child, err := tb.Fork(init, 0)
	require.NoError(t, err)

	console := pty.New(0, tb, s)
	require.NoError(t, tb.Setsid(child))
	require.NoError(t, tb.AcquireControllingTTY(child, console))
	console.SetSession(child.Sid())
	console.SetForegroundPgid(child.Pgid())
	tb.SetForegroundPgid(child.Sid(), child.Pgid())

	console.WriteMaster([]byte{0x03}) // INTR

	pump(t, reg, s, 0, func() bool {
		st, _ := child.State()
		return st == sched.Zombie
	})

	id, status, err := tb.Wait4(init, int32(child.ID), WaitOpts{})
	require.NoError(t, err)
	require.Equal(t, child.ID, id)
	require.True(t, status.Signaled)
	require.Equal(t, signal.SIGINT, status.Signal)
	require.EqualValues(t, 2, status.Signal, "wait status encodes signal number 2")
	require.False(t, status.CoreDumped)
}

// TestScenarioStopAndContinueAcrossCPUs stops a task whose home is the
// second CPU from the first one, then continues it, asserting the
// transitions and that the task never changes home.
func TestScenarioStopAndContinueAcrossCPUs(t *testing.T) {
	tb, reg, s := newTestTable(2)
	init := tb.SpawnInit(0, noopEntry)
	child, err := tb.Fork(init, 0)
	require.NoError(t, err)

	home := s.HomeCPU(child.ID)
	require.Equal(t, ids.CpuID(1), home, "size-based placement lands the second task on the second CPU")

	tb.SendSignal(child, signal.SIGSTOP, 0)
	pump(t, reg, s, home, func() bool {
		st, _ := child.State()
		return st == sched.Stopped
	})

	reg.Get(home).RunQueue.Lock()
	snap := reg.Get(home).RunQueue.Snapshot()
	reg.Get(home).RunQueue.Unlock()
	require.NotContains(t, snap, child.ID, "a stopped task leaves its runqueue")

	tb.SendSignal(child, signal.SIGCONT, 0)
	pump(t, reg, s, home, func() bool {
		st, _ := child.State()
		return st == sched.Ready || st == sched.Running
	})
	require.Equal(t, home, s.HomeCPU(child.ID), "continue returns the task to its original CPU")
}

// TestScenarioWinsizeChangeReachesEveryForegroundMember resizes a PTY
// whose foreground group has three members, each with a SIGWINCH
// handler installed, and asserts all three observe the delivery and
// the new geometry is reported afterwards.
func TestScenarioWinsizeChangeReachesEveryForegroundMember(t *testing.T) {
	tb, reg, s := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)
	console := pty.New(0, tb, s)

	var delivered atomic.Int32
	var members []*Task
	for i := 0; i < 3; i++ {
		c, err := tb.Fork(init, 0)
		require.NoError(t, err)
		c.Sigaction(signal.SIGWINCH, signal.Disposition{Kind: signal.DispHandler}, func(tt *Task) (bool, int32) {
			delivered.Add(1)
			return false, 0
		})
		members = append(members, c)
	}
	require.NoError(t, tb.Setpgid(members[0], 0))
	fg := members[0].Pgid()
	require.NoError(t, tb.Setpgid(members[1], fg))
	require.NoError(t, tb.Setpgid(members[2], fg))
	console.SetForegroundPgid(fg)

	console.SetWinsize(pty.Winsize{Rows: 50, Cols: 200})

	pump(t, reg, s, 0, func() bool { return delivered.Load() == 3 })

	var got pty.Winsize
	require.NoError(t, console.Ioctl(pty.TIOCGWINSZ, &got, nil, nil))
	require.Equal(t, pty.Winsize{Rows: 50, Cols: 200}, got)
	for _, m := range members {
		require.Zero(t, m.Signals.Pending()&(1<<uint(signal.SIGWINCH)),
			"delivery must clear the pending bit")
	}
}
