// Package task implements the task control block, fork/execve/wait4,
// process groups, sessions, and reparenting to init. Grounded on
// gVisor's task_start.go (thread group/session/pgid bookkeeping on
// create) and task_exec.go (fd close-on-exec, disposition reset on
// exec), adapted from gVisor's ptrace'd guest threads to this
// kernel's cooperative task-step model.
package task

import (
	"sync"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
)

// EntryFunc is one quantum's worth of a task's programmed behavior.
// It returns true when the task wants to exit. A task that never
// returns true and never blocks runs forever, one step per scheduling
// turn. The entry step function simply keeps being called; the
// underlying Go function returning from Run (not from EntryFunc)
// without having set Zombie state is a kernel bug, and Run asserts
// on it.
type EntryFunc func(t *Task) (exit bool, code int32)

// TTYHandle is the minimal surface Task needs from a controlling
// terminal, kept abstract so task does not import pty (pty has no
// need to import task either; job-control wiring lives in the
// top-level kernel package that holds both).
type TTYHandle interface {
	Index() uint16
}

// Credentials is a deliberately minimal stand-in for uid/gid
// tracking; the permission model this core implements is "same
// session or privileged" (see DESIGN.md).
type Credentials struct {
	Privileged bool
}

// ExitStatus is what remains of a Zombie task: it retains its id, but
// only the exit status and enough accounting survive until reaped,
// encoded the way wait4 reports it.
type ExitStatus struct {
	Exited     bool
	ExitCode   int32
	Signaled   bool
	Signal     signal.Signal
	CoreDumped bool
	Stopped    bool
	Continued  bool
}

// FdEntry is a single file-descriptor table slot. Object is an opaque
// reference to whatever the VFS (an external collaborator) hands
// back; task only needs to know whether it is shared across fork and
// whether exec drops it.
type FdEntry struct {
	Object      any
	CloseOnExec bool
}

// FdTable implements fork/exec fd semantics: a cloned fd table with
// independent close counts but shared underlying file objects on
// fork, and close-on-exec fds dropped on exec.
type FdTable struct {
	mu   sync.Mutex
	next int
	fds  map[int]FdEntry
}

func NewFdTable() *FdTable { return &FdTable{fds: make(map[int]FdEntry)} }

func (f *FdTable) Install(e FdEntry) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.next
	f.next++
	f.fds[fd] = e
	return fd
}

func (f *FdTable) Get(fd int) (FdEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.fds[fd]
	return e, ok
}

func (f *FdTable) Close(fd int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fds[fd]; !ok {
		return false
	}
	delete(f.fds, fd)
	return true
}

func (f *FdTable) Dup2(oldfd, newfd int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.fds[oldfd]
	if !ok {
		return false
	}
	f.fds[newfd] = e
	if newfd >= f.next {
		f.next = newfd + 1
	}
	return true
}

// Clone returns an independent FdTable sharing the same Object
// references (fork semantics).
func (f *FdTable) Clone() *FdTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := NewFdTable()
	n.next = f.next
	for fd, e := range f.fds {
		n.fds[fd] = e
	}
	return n
}

// DropCloseOnExec removes every close-on-exec fd in place (exec
// semantics).
func (f *FdTable) DropCloseOnExec() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, e := range f.fds {
		if e.CloseOnExec {
			delete(f.fds, fd)
		}
	}
}

// Task is the kernel's record of one schedulable program.
type Task struct {
	ID     ids.TaskID
	Parent ids.TaskID

	mu             sync.Mutex
	pgid           ids.Pgid
	sid            ids.Sid
	children       map[ids.TaskID]struct{}
	tty            TTYHandle
	entry          EntryFunc
	exit           *ExitStatus
	pendingHandler *pendingHandler
	handlers       [32]EntryFunc
	continued      bool

	hasSavedBlocked bool
	savedBlocked    uint64

	Fds     *FdTable
	Signals *signal.State
	Creds   Credentials

	sched *sched.Scheduler
	table *Table
}

func (t *Task) Pgid() ids.Pgid {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pgid
}

func (t *Task) Sid() ids.Sid {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sid
}

func (t *Task) setPgidSid(pgid ids.Pgid, sid ids.Sid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pgid, t.sid = pgid, sid
}

func (t *Task) TTY() TTYHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tty
}

func (t *Task) SetTTY(h TTYHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tty = h
}

// TakePendingHandler returns and clears any handler queued by
// EnterHandler, for the run loop to splice in as the next step.
func (t *Task) TakePendingHandler() (*pendingHandler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.pendingHandler
	t.pendingHandler = nil
	return h, h != nil
}

func (t *Task) Entry() EntryFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry
}

func (t *Task) setEntry(e EntryFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry = e
}

func (t *Task) ExitStatus() (ExitStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exit == nil {
		return ExitStatus{}, false
	}
	return *t.exit, true
}

func (t *Task) HomeCPU() ids.CpuID { return t.sched.HomeCPU(t.ID) }

// markContinued flags that a Wait4(Continued) waiter should report
// this task; takeContinued consumes the flag the first time a waiter
// observes it.
func (t *Task) markContinued() {
	t.mu.Lock()
	t.continued = true
	t.mu.Unlock()
}

func (t *Task) takeContinued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.continued
	t.continued = false
	return v
}

func (t *Task) State() (sched.TaskState, sched.WaitReason) { return t.sched.State(t.ID) }

// Ticks returns the cumulative scheduling ticks this task has
// received, for /proc/<pid>/stat and fairness checks.
func (t *Task) Ticks() uint64 { return t.sched.TicksReceived(t.ID) }

// BlockSelf is called from within a syscall handler: remove from
// runqueue, attach to reason, suspend the calling goroutine until
// rescheduled. Blocking is always this explicit kernel call, never a
// language-level coroutine yield.
func (t *Task) BlockSelf(reason sched.WaitReason) {
	t.sched.Block(t.ID, reason)
	t.sched.WaitTurn(t.ID)
}

// WakeSelfIfSignaled reports whether a deliverable signal is pending.
// Callers blocked in an interruptible wait check this after waking to
// decide whether to report EINTR or restart the operation.
func (t *Task) WakeSelfIfSignaled() bool {
	return t.Signals.Deliverable() != 0
}
