package kernel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
)

// ProcStat renders /proc/<pid>/stat's one line: pid, state, pgid,
// sid, home_cpu, ticks.
func (k *Kernel) ProcStat(pid ids.TaskID) (string, error) {
	t, ok := k.Tasks.Get(pid)
	if !ok {
		return "", kerr.ESRCH
	}
	st, _ := t.State()
	return fmt.Sprintf("%d %s %d %d %d %d", t.ID, st, t.Pgid(), t.Sid(), t.HomeCPU(), t.Ticks()), nil
}

// ProcDebugSessions renders /proc/debug/sessions: one line per
// session, sorted by sid for a stable reading order.
func (k *Kernel) ProcDebugSessions() string {
	sessions := k.Tasks.Sessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "sid=%d leader=%d fg_pgid=%d has_tty=%t\n", s.ID, s.Leader, s.ForegroundPgid, s.HasTTY)
	}
	return b.String()
}

// ProcDebugPtys renders the PTY allocation table: how many pairs the
// multiplexer currently has live.
func (k *Kernel) ProcDebugPtys() string {
	return fmt.Sprintf("ptys_allocated=%d\n", k.Syscalls.Ptys.Count())
}

// ProcDebugLocks renders /proc/debug/locks: each online CPU's
// runqueue contention counter, the one lock-contention signal this
// core tracks.
func (k *Kernel) ProcDebugLocks() string {
	cpus := k.Registry.All()
	sort.Slice(cpus, func(i, j int) bool { return cpus[i].ID < cpus[j].ID })

	var b strings.Builder
	for _, c := range cpus {
		fmt.Fprintf(&b, "cpu=%d runqueue_contentions=%d\n", c.ID, c.RunQueue.Contentions())
	}
	return b.String()
}
