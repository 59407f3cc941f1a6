package ksyscall

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
	"github.com/melloos/kernel/internal/task"
)

// pump drives scheduling turns on cpu until cond holds, standing in
// for the timer-interrupt loop a booted kernel would run.
func pump(t *testing.T, sch *sched.Scheduler, cpu ids.CpuID, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		sch.YieldNow(cpu)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

// TestScenarioPipelineOfThreeChildrenInOneGroup wires a three-stage
// pipeline A|B|C the way a shell does: the pipes exist before the
// forks so every child's cloned fd table shares them, the three
// children sit in one process group, and the shell observes C's exit
// status. One line written into A's stdin flows through both
// transforms.
func TestScenarioPipelineOfThreeChildrenInOneGroup(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	sch := tb.Sched()

	shell := tb.SpawnInit(cpu, noop)

	r0, w0 := s.Pipe(shell)
	r1, w1 := s.Pipe(shell)
	r2, w2 := s.Pipe(shell)

	var out atomic.Value
	stageA := func(tt *task.Task) (bool, int32) {
		buf := make([]byte, 64)
		n, err := s.Read(tt, r0, buf)
		if err != nil {
			return true, 1
		}
		if _, err := s.Write(tt, w1, []byte(strings.ToUpper(string(buf[:n])))); err != nil {
			return true, 1
		}
		s.Close(tt, w1)
		return true, 0
	}
	stageB := func(tt *task.Task) (bool, int32) {
		buf := make([]byte, 64)
		n, err := s.Read(tt, r1, buf)
		if err != nil {
			return true, 1
		}
		if _, err := s.Write(tt, w2, append([]byte("B:"), buf[:n]...)); err != nil {
			return true, 1
		}
		s.Close(tt, w2)
		return true, 0
	}
	stageC := func(tt *task.Task) (bool, int32) {
		buf := make([]byte, 64)
		n, err := s.Read(tt, r2, buf)
		if err != nil {
			return true, 1
		}
		out.Store(string(buf[:n]))
		return true, 42
	}

	a, err := tb.Fork(shell, cpu)
	require.NoError(t, err)
	b, err := tb.Fork(shell, cpu)
	require.NoError(t, err)
	c, err := tb.Fork(shell, cpu)
	require.NoError(t, err)
	a.Execve(stageA)
	b.Execve(stageB)
	c.Execve(stageC)

	require.NoError(t, tb.Setpgid(a, 0))
	fg := a.Pgid()
	require.NoError(t, tb.Setpgid(b, fg))
	require.NoError(t, tb.Setpgid(c, fg))

	_, err = s.Write(shell, w0, []byte("hello\n"))
	require.NoError(t, err)

	pump(t, sch, cpu, func() bool {
		st, _ := c.State()
		return st == sched.Zombie
	})
	require.Equal(t, "B:HELLO\n", out.Load())

	id, status, err := s.Wait4(shell, int32(c.ID), task.WaitOpts{})
	require.NoError(t, err)
	require.Equal(t, c.ID, id)
	require.True(t, status.Exited)
	require.EqualValues(t, 42, status.ExitCode, "the shell sees the last stage's exit status")
}

// TestScenarioSignalInterruptsBlockedPtyRead blocks a task in a read
// on an empty PTY slave, interrupts it with SIGINT sent to its group,
// and asserts the read reports EINTR, the handler runs, and the
// pending bit is cleared by delivery.
func TestScenarioSignalInterruptsBlockedPtyRead(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	sch := tb.Sched()

	pair := pty.New(1, tb, sch)

	readErr := make(chan error, 1)
	var entered atomic.Bool
	entry := func(tt *task.Task) (bool, int32) {
		if entered.CompareAndSwap(false, true) {
			fd := s.OpenPtySlave(tt, pair)
			_, err := s.Read(tt, fd, make([]byte, 16))
			readErr <- err
		}
		return false, 0
	}
	reader := tb.SpawnInit(cpu, entry)
	var handled atomic.Bool
	reader.Sigaction(signal.SIGINT, signal.Disposition{Kind: signal.DispHandler}, func(tt *task.Task) (bool, int32) {
		handled.Store(true)
		return false, 0
	})
	pair.SetForegroundPgid(reader.Pgid())

	pump(t, sch, cpu, func() bool {
		st, reason := reader.State()
		return st == sched.Sleeping && reason == sched.WaitPTYRead
	})

	require.NoError(t, tb.Kill(reader, 0, signal.SIGINT, cpu))

	var got error
	pump(t, sch, cpu, func() bool {
		select {
		case got = <-readErr:
			return true
		default:
			return false
		}
	})
	require.ErrorIs(t, got, kerr.EINTR)

	pump(t, sch, cpu, func() bool { return handled.Load() })
	require.Zero(t, reader.Signals.Pending()&(1<<uint(signal.SIGINT)),
		"delivery must clear the pending bit")
}
