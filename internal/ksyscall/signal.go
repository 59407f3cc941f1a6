package ksyscall

import (
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
	"github.com/melloos/kernel/internal/task"
)

// Sigaction implements sigaction(2): install handler as the EntryFunc
// spliced in when sig is delivered with disposition Handler.
func (s *Syscalls) Sigaction(caller *task.Task, sig signal.Signal, d signal.Disposition, handler task.EntryFunc) error {
	if signal.Unmaskable(sig) {
		return kerr.EINVAL
	}
	caller.Sigaction(sig, d, handler)
	return nil
}

// Sigprocmask implements sigprocmask(2)'s SIG_SETMASK form: callers
// compute the new mask themselves (SIG_BLOCK/SIG_UNBLOCK against the
// old one, read via caller.Signals.Blocked()) before calling this.
func (s *Syscalls) Sigprocmask(caller *task.Task, mask uint64) {
	caller.Signals.SetBlocked(mask)
}

// Sigreturn implements sigreturn(2).
func (s *Syscalls) Sigreturn(caller *task.Task) {
	caller.Sigreturn()
}

// Pause implements pause(2): block until any signal is delivered, then
// always report interrupted, matching POSIX's "pause always returns
// -1 with errno set to EINTR" contract.
func (s *Syscalls) Pause(caller *task.Task) error {
	caller.BlockSelf(sched.WaitSignal)
	return kerr.EINTR
}
