package ksyscall

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/percpu"
	"github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
	"github.com/melloos/kernel/internal/task"
)

func newTestTable(t *testing.T) (*task.Table, ids.CpuID) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	reg := percpu.NewRegistry()
	cpu := percpu.New(0, 0, 100, ids.TaskID(9999))
	reg.Add(cpu)
	cpu.Publish()

	s := sched.New(log, reg, 10)
	s.RegisterIdle(0, ids.TaskID(9999))

	return task.NewTable(s, log), ids.CpuID(0)
}

func noop(t *task.Task) (bool, int32) { return false, 0 }

func TestGetpidFamily(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())

	init := tb.SpawnInit(cpu, noop)
	require.Equal(t, init.ID, s.Getpid(init))
	require.Equal(t, ids.NoTask, s.Getppid(init))
	require.Equal(t, ids.Pgid(init.ID), s.Getpgid(init))
	require.Equal(t, ids.Sid(init.ID), s.Getsid(init))
}

func TestExecveAgainstProgramRegistry(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	init := tb.SpawnInit(cpu, noop)

	require.ErrorIs(t, s.Execve(init, "nope"), kerr.ENODEV)

	ran := false
	s.RegisterProgram("/bin/sh", func(t *task.Task) (bool, int32) { ran = true; return true, 0 })
	require.NoError(t, s.Execve(init, "/bin/sh"))
	init.Entry()(init)
	require.True(t, ran)
}

func TestKillTargetingAndPermission(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	init := tb.SpawnInit(cpu, noop)

	require.ErrorIs(t, s.Kill(init, 999, signal.SIGTERM, cpu), kerr.ESRCH)

	child, err := tb.Fork(init, cpu)
	require.NoError(t, err)

	require.NoError(t, s.Kill(init, int32(child.ID), signal.SIGTERM, cpu))
	require.NotZero(t, child.Signals.Pending()&(1<<uint(signal.SIGTERM)))
}

func TestSigactionAndSigreturnRestoreMask(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	init := tb.SpawnInit(cpu, noop)

	require.NoError(t, s.Sigaction(init, signal.SIGUSR1, signal.Disposition{Kind: signal.DispHandler}, func(t *task.Task) (bool, int32) {
		return false, 0
	}))

	init.Signals.SetBlocked(1 << uint(signal.SIGTERM))
	init.Signals.SetPending(signal.SIGUSR1)

	signal.Deliver(init.Signals, init)
	// Entering the handler masks its own signal in addition to whatever
	// was already blocked.
	require.NotZero(t, init.Signals.Blocked()&(1<<uint(signal.SIGUSR1)))

	s.Sigreturn(init)
	require.Equal(t, uint64(1<<uint(signal.SIGTERM)), init.Signals.Blocked())
}

func TestPipeReadWrite(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	init := tb.SpawnInit(cpu, noop)

	rfd, wfd := s.Pipe(init)
	n, err := s.Write(init, wfd, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	out := make([]byte, 16)
	n, err = s.Read(init, rfd, out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func TestIoctlRoundTripThroughSyscalls(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	init := tb.SpawnInit(cpu, noop)

	pair := pty.New(1, tb, tb.Sched())
	fd := s.OpenPtySlave(init, pair)

	set := pty.Winsize{Rows: 50, Cols: 200}
	require.NoError(t, s.Ioctl(init, fd, pty.TIOCSWINSZ, &set, nil, nil))

	var got pty.Winsize
	require.NoError(t, s.Ioctl(init, fd, pty.TIOCGWINSZ, &got, nil, nil))
	require.Equal(t, set, got)
}

func TestOpenPtyMuxAllocatesPairAndSlaveByIndex(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	leader := tb.SpawnInit(cpu, noop)

	mfd, idx := s.OpenPtyMux(leader)
	var got int32
	require.NoError(t, s.Ioctl(leader, mfd, pty.TIOCGPTN, nil, nil, &got))
	require.EqualValues(t, idx, got)

	sfd, err := s.OpenPtySlaveByIndex(leader, idx)
	require.NoError(t, err)

	// The opening session leader acquired the slave as its controlling
	// terminal.
	require.NotNil(t, leader.TTY())
	require.Equal(t, 1, s.Ptys.Count())

	require.NoError(t, s.Close(leader, sfd))
	require.NoError(t, s.Close(leader, mfd))
	require.Equal(t, 0, s.Ptys.Count(), "the pair is freed once both ends close")

	_, err = s.OpenPtySlaveByIndex(leader, idx)
	require.ErrorIs(t, err, kerr.ENODEV)
}

func TestBackgroundWriteToSlaveSuspends(t *testing.T) {
	tb, cpu := newTestTable(t)
	s := New(tb, logrus.New())
	init := tb.SpawnInit(cpu, noop)
	child, err := tb.Fork(init, cpu)
	require.NoError(t, err)
	require.NoError(t, tb.Setpgid(child, 0)) // child leaves init's group

	pair := pty.New(1, tb, tb.Sched())
	pair.SetForegroundPgid(init.Pgid())
	tm := pair.Termios()
	tm.LocalFlags |= pty.TOSTOP
	pair.SetTermios(tm)
	fd := s.OpenPtySlave(child, pair)

	_, err = s.Write(child, fd, []byte("x"))
	require.ErrorIs(t, err, kerr.EINTR)
}
