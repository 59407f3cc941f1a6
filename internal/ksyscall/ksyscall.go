// Package ksyscall dispatches the kernel's required syscall surface
// against internal/task, internal/signal, and internal/pty. Grounded
// on gVisor's pkg/sentry/syscalls/linux (each syscall is its own
// Go function taking the calling task and returning a result or
// error), adapted from marshalled ABI argument words to plain Go
// parameter types, since this kernel models no address space to copy
// argument structs out of.
package ksyscall

import (
	"github.com/sirupsen/logrus"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/signal"
	"github.com/melloos/kernel/internal/task"
)

// Syscalls holds everything a handler needs to act on the calling
// task: the process table (for fork/wait4/pgid/session/kill), the PTY
// multiplexer, and a registry of the builtin programs execve may
// switch a task to, since this kernel has no ELF loader to resolve a
// path against.
type Syscalls struct {
	Tasks    *task.Table
	Ptys     *pty.Mux
	Programs map[string]task.EntryFunc
	log      *logrus.Logger
}

func New(tasks *task.Table, log *logrus.Logger) *Syscalls {
	return &Syscalls{
		Tasks:    tasks,
		Ptys:     pty.NewMux(tasks, tasks.Sched()),
		Programs: make(map[string]task.EntryFunc),
		log:      log,
	}
}

// RegisterProgram makes name resolvable by Execve. Called at boot to
// install the kernel's builtin shell and any other in-tree program;
// there is no ELF loader to resolve a path against.
func (s *Syscalls) RegisterProgram(name string, entry task.EntryFunc) {
	s.Programs[name] = entry
}

// Fork implements fork(2): clone the caller into a new task sharing
// its program, pgid, and session.
func (s *Syscalls) Fork(caller *task.Task, callerCPU ids.CpuID) (ids.TaskID, error) {
	child, err := s.Tasks.Fork(caller, callerCPU)
	if err != nil {
		return ids.NoTask, err
	}
	return child.ID, nil
}

// Execve implements execve(2) against the builtin program registry:
// replaces the caller's program in place, preserving pid/pgid/sid.
func (s *Syscalls) Execve(caller *task.Task, path string) error {
	entry, ok := s.Programs[path]
	if !ok {
		return kerr.ENODEV
	}
	caller.Execve(entry)
	return nil
}

// Exit implements exit(2): the caller becomes a zombie with the given
// exit code.
func (s *Syscalls) Exit(caller *task.Task, callerCPU ids.CpuID, code int32) {
	s.Tasks.Exit(caller, callerCPU, task.ExitStatus{Exited: true, ExitCode: code})
}

// Wait4 implements wait4(2). target follows the usual convention: >0
// a specific pid, -1 any child, 0 the caller's own pgid, <-1 the
// named pgid.
func (s *Syscalls) Wait4(caller *task.Task, target int32, opts task.WaitOpts) (ids.TaskID, task.ExitStatus, error) {
	return s.Tasks.Wait4(caller, target, opts)
}

func (s *Syscalls) Getpid(caller *task.Task) ids.TaskID  { return caller.ID }
func (s *Syscalls) Getppid(caller *task.Task) ids.TaskID { return caller.Parent }
func (s *Syscalls) Getpgid(caller *task.Task) ids.Pgid   { return caller.Pgid() }
func (s *Syscalls) Getsid(caller *task.Task) ids.Sid     { return s.Tasks.Getsid(caller) }

func (s *Syscalls) Setpgid(caller *task.Task, pgid ids.Pgid) error {
	return s.Tasks.Setpgid(caller, pgid)
}

func (s *Syscalls) Setsid(caller *task.Task) error { return s.Tasks.Setsid(caller) }

// Kill implements kill(2): target > 0 a task id, target == 0 the
// caller's own pgid, target < 0 process group -target.
func (s *Syscalls) Kill(caller *task.Task, target int32, sig signal.Signal, callerCPU ids.CpuID) error {
	return s.Tasks.Kill(caller, target, sig, callerCPU)
}
