// Package kernel wires internal/hal, internal/smp, internal/sched,
// internal/task, internal/pty, internal/signal, internal/config and
// internal/ksyscall into one bootable instance, and owns pid 1: the
// init task that acquires the console as its controlling terminal,
// forks and execs the builtin shell, and reaps orphaned children
// forever.
package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/melloos/kernel/internal/config"
	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/ksyscall"
	"github.com/melloos/kernel/internal/percpu"
	"github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/smp"
	"github.com/melloos/kernel/internal/task"
)

// Kernel holds every subsystem needed to bring the machine up and run
// init. Its fields are exported so cmd/kernel and cmd/mellotty can
// reach the pieces they each need (bring-up, the /proc surface, the
// console) without this package growing a second, parallel API.
type Kernel struct {
	Log      *logrus.Logger
	Config   config.Config
	Registry *percpu.Registry
	Sched    *sched.Scheduler
	Bringup  *smp.Bringup
	Tasks    *task.Table
	Syscalls *ksyscall.Syscalls
	Console  *pty.PtyPair

	initTask     *task.Task
	shellStarted bool
}

// idleIDBase reserves a disjoint id range for per-CPU idle tasks,
// since they never go through task.Table's own sequential pid
// allocator: an idle task is pure scheduler bookkeeping, never a
// table entry a wait4 or kill could target.
const idleIDBase = ids.TaskID(1 << 20)

func New(cfg config.Config) *Kernel {
	log := logrus.New()
	log.SetLevel(cfg.LogrusLevel())

	reg := percpu.NewRegistry()
	s := sched.New(log, reg, cfg.RebalanceEveryTicks)
	b := smp.New(log, reg, cfg.TickHz, s.Tick)
	tb := task.NewTable(s, log)
	sc := ksyscall.New(tb, log)

	return &Kernel{Log: log, Config: cfg, Registry: reg, Sched: s, Bringup: b, Tasks: tb, Syscalls: sc}
}

// Boot brings up every CPU named in madt (only the first
// Config.MaxCPUs of them when that is nonzero), registers each one's
// idle task, opens the console PTY sized per Config, and spawns init
// as pid 1 with the console as its controlling terminal.
func (k *Kernel) Boot(madt *smp.MADT) error {
	if limit := int(k.Config.MaxCPUs); limit > 0 && madt != nil && len(madt.ApicIDs) > limit {
		madt = &smp.MADT{LocalAPICAddr: madt.LocalAPICAddr, ApicIDs: madt.ApicIDs[:limit]}
	}
	n, err := k.Bringup.BringUpAllCPUs(madt)
	if err != nil {
		return fmt.Errorf("kernel: bring-up: %w", err)
	}
	for _, cpu := range k.Registry.All() {
		k.Sched.RegisterIdle(cpu.ID, idleIDBase+ids.TaskID(cpu.ID))
	}
	k.Bringup.EnableInterrupts()
	k.Log.WithField("cpus", n).Info("kernel: all CPUs online")

	k.Console = k.Syscalls.Ptys.Open()
	k.Console.SetWinsize(pty.Winsize{Rows: k.Config.ConsoleRows, Cols: k.Config.ConsoleCols})

	k.initTask = k.Tasks.SpawnInit(0, k.initEntry)
	if _, taken := k.Console.Session(); taken {
		return kerr.EBUSY
	}
	if err := k.Tasks.AcquireControllingTTY(k.initTask, k.Console); err != nil {
		return fmt.Errorf("kernel: init acquiring console: %w", err)
	}
	k.Console.SetSession(k.initTask.Sid())
	k.Console.SetForegroundPgid(k.initTask.Pgid())
	k.Tasks.SetForegroundPgid(k.initTask.Sid(), k.initTask.Pgid())

	k.Syscalls.RegisterProgram("/bin/sh", k.shellEntry)
	return nil
}

// Shutdown stops every CPU's tick loop.
func (k *Kernel) Shutdown() { k.Bringup.Shutdown() }

// initEntry is pid 1's program: on its first turn it forks and execs
// the builtin shell, handing the shell its own foreground process
// group so line-discipline signals and TOSTOP reach it rather than
// init; every turn after that it reaps whatever children wait4
// already found exited, including orphans reparented to it by
// task.Table.reap.
func (k *Kernel) initEntry(t *task.Task) (bool, int32) {
	if !k.shellStarted {
		k.shellStarted = true
		k.spawnShell(t)
	}
	k.Tasks.Wait4(t, -1, task.WaitOpts{NoHang: true})
	return false, 0
}

func (k *Kernel) spawnShell(t *task.Task) {
	childID, err := k.Syscalls.Fork(t, t.HomeCPU())
	if err != nil {
		k.Log.WithError(err).Error("kernel: failed to fork shell")
		return
	}
	child, ok := k.Tasks.Get(childID)
	if !ok {
		return
	}
	if err := k.Tasks.Setpgid(child, 0); err != nil {
		k.Log.WithError(err).Error("kernel: failed to give shell its own process group")
		return
	}
	k.Console.SetForegroundPgid(child.Pgid())
	k.Tasks.SetForegroundPgid(child.Sid(), child.Pgid())
	if err := k.Syscalls.Execve(child, "/bin/sh"); err != nil {
		k.Log.WithError(err).Error("kernel: failed to exec shell")
	}
}

// shellEntry is the builtin interactive shell: it opens the console's
// slave side, echoes a prompt, and reads lines until "exit". There is
// no ELF loader to run a real shell binary, but the builtin still
// exercises the full PTY/job-control path end to end.
func (k *Kernel) shellEntry(t *task.Task) (bool, int32) {
	fd := k.Syscalls.OpenPtySlave(t, k.Console)
	buf := make([]byte, 256)
	for {
		if _, err := k.Syscalls.Write(t, fd, []byte("$ ")); err != nil {
			return true, 1
		}
		n, err := k.Syscalls.Read(t, fd, buf)
		if err != nil {
			if errors.Is(err, kerr.EINTR) {
				continue
			}
			return true, 1
		}
		line := strings.TrimSpace(string(buf[:n]))
		if line == "exit" {
			return true, 0
		}
	}
}
