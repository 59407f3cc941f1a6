package task

import (
	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
)

// Terminate implements signal.Effects: record the exit status and
// move the task to Zombie via the table's normal exit path.
func (t *Task) Terminate(sig signal.Signal, coreDumped bool) {
	t.table.Exit(t, t.HomeCPU(), ExitStatus{Signaled: true, Signal: sig, CoreDumped: coreDumped})
}

// StopTask implements signal.Effects: mark the task Stopped and wake
// any parent blocked in Wait4 with Untraced set.
func (t *Task) StopTask(sig signal.Signal) {
	t.sched.Stop(t.ID)
	t.table.wakeWaitingParent(t.Parent, t.HomeCPU())
}

// ContinueTask implements signal.Effects: mark the task Ready again,
// re-enqueued on its home CPU, and wake any parent blocked in Wait4
// with Continued set.
func (t *Task) ContinueTask(sig signal.Signal) {
	t.sched.Continue(t.ID)
	t.markContinued()
	t.table.wakeWaitingParent(t.Parent, t.HomeCPU())
}

// EnterHandler implements signal.Effects. There is no user stack to
// push a frame onto in this simulation; instead the pending handler
// is recorded and the run loop invokes it as the task's next step,
// which is the cooperative-scheduling equivalent of "resume execution
// at the handler address". The interrupted program's own entry is
// untouched and simply resumes on the turn after the handler runs.
// prevBlocked is saved for Sigreturn to restore.
func (t *Task) EnterHandler(sig signal.Signal, d signal.Disposition, prevBlocked uint64) {
	t.mu.Lock()
	t.pendingHandler = &pendingHandler{sig: sig, disp: d}
	t.savedBlocked = prevBlocked
	t.hasSavedBlocked = true
	t.mu.Unlock()
}

// Sigreturn implements sigreturn(2): restores the blocked mask that
// was in effect just before the currently running handler was
// entered. A no-op if no handler's mask is pending restoration.
func (t *Task) Sigreturn() {
	t.mu.Lock()
	if t.hasSavedBlocked {
		mask := t.savedBlocked
		t.hasSavedBlocked = false
		t.mu.Unlock()
		t.Signals.SetBlocked(mask)
		return
	}
	t.mu.Unlock()
}

type pendingHandler struct {
	sig  signal.Signal
	disp signal.Disposition
}

// SendSignal delivers sig to a single task: mark it pending, and if
// the task is Sleeping, wake it so it observes the signal on its next
// step (an interruptible wait's caller is expected to check
// Deliverable() itself after waking). A Stopped task is off every
// runqueue and can never reach its own Run loop to process a pending
// signal through the normal deliver-on-next-turn path, so SIGCONT
// against a Stopped target takes the default continue action directly
// here instead of waiting for delivery that can never come.
func (tb *Table) SendSignal(target *Task, sig signal.Signal, callerCPU ids.CpuID) {
	target.Signals.SetPending(sig)
	switch st, _ := target.State(); st {
	case sched.Sleeping:
		tb.sched.Wake(target.ID, callerCPU)
	case sched.Stopped:
		if sig == signal.SIGCONT {
			target.Signals.ClearPending(sig)
			target.ContinueTask(sig)
		}
	}
}

// Kill implements the kill syscall's targeting rules: target > 0 is a
// single task id, target == 0 is the caller's own process group,
// target < 0 is process group -target (|target|), with no exception at
// -1. target is signed (unlike ids.TaskID) because the kill(2) calling
// convention itself overloads sign to distinguish a pid from a pgid.
// The caller must be in the same session as the target, or privileged.
func (tb *Table) Kill(caller *Task, target int32, sig signal.Signal, callerCPU ids.CpuID) error {
	switch {
	case target > 0:
		t, ok := tb.Get(ids.TaskID(target))
		if !ok {
			return kerr.ESRCH
		}
		if !tb.permitted(caller, t) {
			return kerr.EPERM
		}
		tb.SendSignal(t, sig, callerCPU)
		return nil
	default:
		pgid := caller.Pgid()
		if target < 0 {
			pgid = ids.Pgid(-target)
		}
		members := tb.groupMembers(pgid)
		if len(members) == 0 {
			return kerr.ESRCH
		}
		for _, id := range members {
			if m, ok := tb.Get(id); ok && tb.permitted(caller, m) {
				tb.SendSignal(m, sig, callerCPU)
			}
		}
		return nil
	}
}

// permitted implements the "same session or privileged" resolution of
// the kill-permission open question.
func (tb *Table) permitted(caller, target *Task) bool {
	return caller.Creds.Privileged || caller.Sid() == target.Sid()
}

// SignalGroup fans sig out to every member of pgid, bypassing the
// kill permission check: these are kernel-generated job-control
// signals (SIGWINCH on window resize, SIGTTIN/SIGTTOU/SIGINT/SIGQUIT/
// SIGTSTP from the line discipline), not a user-issued kill, so the
// usual same-session-or-privileged rule does not apply. Satisfies
// pty.JobControl.
func (tb *Table) SignalGroup(pgid ids.Pgid, sig signal.Signal) {
	for _, id := range tb.groupMembers(pgid) {
		if m, ok := tb.Get(id); ok {
			tb.SendSignal(m, sig, m.HomeCPU())
		}
	}
}
