package ksyscall

import (
	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
	"github.com/melloos/kernel/internal/task"
)

// File is the minimal read/write surface an fd table entry's Object
// must implement for read(2)/write(2) to operate on it uniformly,
// whether it backs a PTY side or a pipe end. wouldBlock distinguishes
// "nothing to do yet" from n==0 meaning end-of-file.
type File interface {
	ReadFile(buf []byte) (n int, wouldBlock bool)
	WriteFile(buf []byte) (n int, wouldBlock bool)
}

// ptySide wraps one side of a PtyPair as a File.
type ptySide struct {
	pair   *pty.PtyPair
	master bool
}

func (ps ptySide) ReadFile(buf []byte) (int, bool) {
	if ps.master {
		n := ps.pair.ReadMaster(buf)
		return n, n == 0
	}
	n := ps.pair.ReadSlave(buf)
	return n, n == 0
}

func (ps ptySide) WriteFile(buf []byte) (int, bool) {
	if ps.master {
		return ps.pair.WriteMaster(buf), false
	}
	return ps.pair.WriteSlave(buf), false
}

// OpenPtyMaster/OpenPtySlave install the corresponding side of pair
// into caller's fd table, returning the new fd.
func (s *Syscalls) OpenPtyMaster(caller *task.Task, pair *pty.PtyPair) int {
	return caller.Fds.Install(task.FdEntry{Object: ptySide{pair: pair, master: true}})
}

func (s *Syscalls) OpenPtySlave(caller *task.Task, pair *pty.PtyPair) int {
	fd := caller.Fds.Install(task.FdEntry{Object: ptySide{pair: pair}})
	s.maybeAcquireControllingTTY(caller, pair)
	return fd
}

// OpenPtyMux implements opening the PTY multiplexer: a fresh pair is
// allocated, the master side is installed in the caller's fd table,
// and the reserved slave index is returned alongside the fd (also
// readable later via the TIOCGPTN ioctl on the master).
func (s *Syscalls) OpenPtyMux(caller *task.Task) (int, uint16) {
	pair := s.Ptys.Open()
	fd := caller.Fds.Install(task.FdEntry{Object: ptySide{pair: pair, master: true}})
	return fd, pair.Index()
}

// OpenPtySlaveByIndex opens the slave end reserved by an earlier
// OpenPtyMux call, by its index under the pts directory.
func (s *Syscalls) OpenPtySlaveByIndex(caller *task.Task, index uint16) (int, error) {
	pair, ok := s.Ptys.Get(index)
	if !ok {
		return -1, kerr.ENODEV
	}
	fd := caller.Fds.Install(task.FdEntry{Object: ptySide{pair: pair}})
	s.maybeAcquireControllingTTY(caller, pair)
	return fd, nil
}

// maybeAcquireControllingTTY applies the acquisition rule on slave
// open: a session leader with no controlling terminal that opens a
// terminal with no controlling session acquires it. Everyone else
// opens the slave without side effects.
func (s *Syscalls) maybeAcquireControllingTTY(caller *task.Task, pair *pty.PtyPair) {
	if _, taken := pair.Session(); taken {
		return
	}
	if err := s.Tasks.AcquireControllingTTY(caller, pair); err == nil {
		pair.SetSession(caller.Sid())
	}
}

// checkSlaveAccess applies the TOSTOP-gated SIGTTIN/SIGTTOU rule to a
// background access of a PTY slave, acting immediately (rather than
// waiting for the next delivery pass) since a blocking read/write is
// expected to suspend synchronously.
func (s *Syscalls) checkSlaveAccess(caller *task.Task, ps ptySide, isWrite bool) error {
	sig := signal.SIGTTIN
	if isWrite {
		sig = signal.SIGTTOU
	}
	d := caller.Signals.Disposition(sig)
	ignoredOrBlocked := d.Kind == signal.DispIgnore || caller.Signals.Blocked()&(1<<uint(sig)) != 0

	switch ps.pair.CheckBackgroundAccess(caller.Pgid(), isWrite, ignoredOrBlocked) {
	case pty.AccessOK:
		return nil
	case pty.AccessError:
		return kerr.EIO
	default: // AccessSuspend
		caller.Signals.ClearPending(sig)
		caller.StopTask(sig)
		return kerr.EINTR
	}
}

// Read implements read(2), blocking via task.BlockSelf(WaitPTYRead)
// until data arrives or a signal interrupts the wait.
func (s *Syscalls) Read(caller *task.Task, fd int, buf []byte) (int, error) {
	e, ok := caller.Fds.Get(fd)
	if !ok {
		return 0, kerr.EINVAL
	}
	f, ok := e.Object.(File)
	if !ok {
		return 0, kerr.EINVAL
	}
	if ps, ok := e.Object.(ptySide); ok && !ps.master {
		if err := s.checkSlaveAccess(caller, ps, false); err != nil {
			return 0, err
		}
	}
	for {
		n, wouldBlock := f.ReadFile(buf)
		if !wouldBlock {
			if n > 0 {
				if pr, ok := e.Object.(pipeReadEnd); ok {
					s.wakeAll(caller, pr.buf.takeWriters())
				}
			}
			return n, nil
		}
		if caller.WakeSelfIfSignaled() {
			return 0, kerr.EINTR
		}
		reason := sched.WaitPTYRead
		switch obj := e.Object.(type) {
		case ptySide:
			if obj.master {
				obj.pair.BlockReaderOnMaster(caller.ID)
			} else {
				obj.pair.BlockReaderOnSlave(caller.ID)
			}
		case pipeReadEnd:
			obj.buf.blockReader(caller.ID)
			reason = sched.WaitPipeRead
		}
		caller.BlockSelf(reason)
	}
}

// Write implements write(2).
func (s *Syscalls) Write(caller *task.Task, fd int, buf []byte) (int, error) {
	e, ok := caller.Fds.Get(fd)
	if !ok {
		return 0, kerr.EINVAL
	}
	f, ok := e.Object.(File)
	if !ok {
		return 0, kerr.EINVAL
	}
	if ps, ok := e.Object.(ptySide); ok && !ps.master {
		if err := s.checkSlaveAccess(caller, ps, true); err != nil {
			return 0, err
		}
	}
	for {
		n, wouldBlock := f.WriteFile(buf)
		if !wouldBlock {
			if n > 0 {
				if pw, ok := e.Object.(pipeWriteEnd); ok {
					s.wakeAll(caller, pw.buf.takeReaders())
				}
			}
			return n, nil
		}
		if caller.WakeSelfIfSignaled() {
			return 0, kerr.EINTR
		}
		reason := sched.WaitPTYWrite
		if pw, ok := e.Object.(pipeWriteEnd); ok {
			pw.buf.blockWriter(caller.ID)
			reason = sched.WaitPipeWrite
		}
		caller.BlockSelf(reason)
	}
}

func (s *Syscalls) Close(caller *task.Task, fd int) error {
	e, ok := caller.Fds.Get(fd)
	if !ok {
		return kerr.EINVAL
	}
	switch obj := e.Object.(type) {
	case pipeWriteEnd:
		// Closing the write end is the EOF a blocked reader has been
		// waiting for.
		obj.closeWrite()
		s.wakeAll(caller, obj.buf.takeReaders())
	case ptySide:
		s.Ptys.Release(obj.pair.Index())
	}
	caller.Fds.Close(fd)
	return nil
}

// wakeAll resumes every task parked on a pipe wait set.
func (s *Syscalls) wakeAll(caller *task.Task, tasks []ids.TaskID) {
	if len(tasks) == 0 {
		return
	}
	s.Tasks.Sched().WakeMany(tasks, caller.HomeCPU())
}

func (s *Syscalls) Dup2(caller *task.Task, oldfd, newfd int) error {
	if !caller.Fds.Dup2(oldfd, newfd) {
		return kerr.EINVAL
	}
	return nil
}

// Pipe implements pipe(2), returning (readFd, writeFd).
func (s *Syscalls) Pipe(caller *task.Task) (int, int) {
	buf := newPipeBuffer()
	rfd := caller.Fds.Install(task.FdEntry{Object: pipeReadEnd{buf: buf}})
	wfd := caller.Fds.Install(task.FdEntry{Object: pipeWriteEnd{buf: buf}})
	return rfd, wfd
}

// Ioctl dispatches the required tty ioctl set against a PTY-backed fd.
func (s *Syscalls) Ioctl(caller *task.Task, fd int, request uintptr, winArg *pty.Winsize, termArg *pty.Termios, pgidArg *int32) error {
	e, ok := caller.Fds.Get(fd)
	if !ok {
		return kerr.EINVAL
	}
	ps, ok := e.Object.(ptySide)
	if !ok {
		return kerr.ENOTTY
	}
	return ps.pair.Ioctl(request, winArg, termArg, pgidArg)
}
