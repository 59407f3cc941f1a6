package task

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
)

// ProcessGroup is the membership set a pgid names.
type ProcessGroup struct {
	ID      ids.Pgid
	Session ids.Sid
	Members map[ids.TaskID]struct{}
}

// Session groups process groups under one controlling terminal.
type Session struct {
	ID             ids.Sid
	Leader         ids.TaskID
	TTY            TTYHandle
	ForegroundPgid ids.Pgid
}

// Table is the global task/pgroup/session directory. Its lock is
// always acquired before any per-task lock, ahead of per-CPU
// runqueue locks, matching the rest of the kernel's lock-ordering
// convention (global tables, then runqueues, then per-task state).
type Table struct {
	mu       sync.Mutex
	tasks    map[ids.TaskID]*Task
	pgroups  map[ids.Pgid]*ProcessGroup
	sessions map[ids.Sid]*Session
	nextID   ids.TaskID
	sched    *sched.Scheduler
	log      *logrus.Logger
	initPID  ids.TaskID
}

func NewTable(s *sched.Scheduler, log *logrus.Logger) *Table {
	return &Table{
		tasks:    make(map[ids.TaskID]*Task),
		pgroups:  make(map[ids.Pgid]*ProcessGroup),
		sessions: make(map[ids.Sid]*Session),
		sched:    s,
		log:      log,
	}
}

// Sched exposes the underlying scheduler for callers (ksyscall's
// sched_yield/nanosleep) that need it directly rather than through a
// Task method.
func (tb *Table) Sched() *sched.Scheduler { return tb.sched }

func (tb *Table) allocID() ids.TaskID {
	tb.nextID++
	return tb.nextID
}

// SpawnInit creates pid 1: its own process group, its own session,
// no parent, no controlling terminal yet.
func (tb *Table) SpawnInit(callerCPU ids.CpuID, entry EntryFunc) *Task {
	tb.mu.Lock()
	id := tb.allocID()
	t := &Task{
		ID:      id,
		Parent:  ids.NoTask,
		entry:   entry,
		Fds:     NewFdTable(),
		Signals: &signal.State{},
	}
	t.children = make(map[ids.TaskID]struct{})
	t.pgid, t.sid = ids.Pgid(id), ids.Sid(id)
	t.sched = tb.sched
	t.table = tb
	tb.tasks[id] = t
	tb.pgroups[t.pgid] = &ProcessGroup{ID: t.pgid, Session: t.sid, Members: map[ids.TaskID]struct{}{id: {}}}
	tb.sessions[t.sid] = &Session{ID: t.sid, Leader: id}
	tb.initPID = id
	tb.mu.Unlock()

	tb.sched.Spawn(id, callerCPU)
	go Run(tb, t)
	tb.log.WithField("pid", id).Info("init spawned")
	return t
}

func (tb *Table) Get(id ids.TaskID) (*Task, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t, ok := tb.tasks[id]
	return t, ok
}

// Fork duplicates parent into a new task sharing its program (the
// entry step function), a cloned fd table (independent close counts,
// shared objects), a deep copy of signal state, and the same pgid and
// session. Placement follows the scheduler's own placement policy.
func (tb *Table) Fork(parent *Task, callerCPU ids.CpuID) (*Task, error) {
	tb.mu.Lock()
	if _, ok := tb.tasks[parent.ID]; !ok {
		tb.mu.Unlock()
		return nil, kerr.ESRCH
	}
	id := tb.allocID()
	child := &Task{
		ID:      id,
		Parent:  parent.ID,
		entry:   parent.Entry(),
		Fds:     parent.Fds.Clone(),
		Signals: parent.Signals.Clone(),
		Creds:   parent.Creds,
	}
	child.children = make(map[ids.TaskID]struct{})
	pgid, sid := parent.Pgid(), parent.Sid()
	child.pgid, child.sid = pgid, sid
	child.tty = parent.TTY()
	child.sched = tb.sched
	child.table = tb
	tb.tasks[id] = child
	if pg, ok := tb.pgroups[pgid]; ok {
		pg.Members[id] = struct{}{}
	}
	if p, ok := tb.tasks[parent.ID]; ok {
		if p.children == nil {
			p.children = make(map[ids.TaskID]struct{})
		}
		p.children[id] = struct{}{}
	}
	tb.mu.Unlock()

	tb.sched.Spawn(id, callerCPU)
	go Run(tb, child)
	return child, nil
}

// Exit implements process termination: remove from its runqueue via
// the scheduler, record the exit status, and wake any parent blocked
// in Wait4. A zombie is never reachable from a runqueue again after
// this call returns.
func (tb *Table) Exit(t *Task, callerCPU ids.CpuID, status ExitStatus) {
	tb.sched.Exit(t.ID)

	tb.mu.Lock()
	t.mu.Lock()
	t.exit = &status
	t.mu.Unlock()
	parentID := t.Parent
	tb.mu.Unlock()

	tb.wakeWaitingParent(parentID, callerCPU)
	tb.log.WithFields(logrus.Fields{"pid": t.ID, "code": status.ExitCode, "signaled": status.Signaled}).Info("task exited")
}

// wakeWaitingParent wakes parentID if it is blocked in Wait4, a no-op
// otherwise (Wake on a task that is not Sleeping does nothing).
func (tb *Table) wakeWaitingParent(parentID ids.TaskID, callerCPU ids.CpuID) {
	if parentID == ids.NoTask {
		return
	}
	if p, ok := tb.Get(parentID); ok {
		if st, reason := p.State(); st == sched.Sleeping && reason == sched.WaitChild {
			tb.sched.Wake(parentID, callerCPU)
		}
	}
}

// Reap removes a Zombie task from the table entirely, releasing its
// id and process-group membership. Must only be called after Wait4
// has collected its status.
func (tb *Table) reap(t *Task) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.tasks, t.ID)
	if pg, ok := tb.pgroups[t.Pgid()]; ok {
		delete(pg.Members, t.ID)
		if len(pg.Members) == 0 {
			delete(tb.pgroups, pg.ID)
		}
	}
	if parent, ok := tb.tasks[t.Parent]; ok {
		delete(parent.children, t.ID)
	}
	// Reparent this task's own children to init, so no task is ever
	// left permanently without a reaper.
	for cid := range t.children {
		if c, ok := tb.tasks[cid]; ok {
			c.Parent = tb.initPID
			if initTask, ok := tb.tasks[tb.initPID]; ok {
				if initTask.children == nil {
					initTask.children = make(map[ids.TaskID]struct{})
				}
				initTask.children[cid] = struct{}{}
			}
		}
	}
}

// Setpgid moves t into pgid, creating the group if it does not yet
// exist. A process may only join a group within its own session.
func (tb *Table) Setpgid(t *Task, pgid ids.Pgid) error {
	if pgid == 0 {
		pgid = ids.Pgid(t.ID)
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()

	sid := t.Sid()
	if existing, ok := tb.pgroups[pgid]; ok {
		if existing.Session != sid {
			return kerr.EPERM
		}
	}
	oldPgid := t.Pgid()
	if oldpg, ok := tb.pgroups[oldPgid]; ok {
		delete(oldpg.Members, t.ID)
		if len(oldpg.Members) == 0 {
			delete(tb.pgroups, oldPgid)
		}
	}
	pg, ok := tb.pgroups[pgid]
	if !ok {
		pg = &ProcessGroup{ID: pgid, Session: sid, Members: map[ids.TaskID]struct{}{}}
		tb.pgroups[pgid] = pg
	}
	pg.Members[t.ID] = struct{}{}
	t.setPgidSid(pgid, sid)
	return nil
}

// Setsid makes t the leader of a brand new session and a brand new
// process group, and detaches it from any controlling terminal.
// Disallowed for a process that is already a process group leader.
func (tb *Table) Setsid(t *Task) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	newSid, newPgid := ids.Sid(t.ID), ids.Pgid(t.ID)
	if _, isLeader := tb.pgroups[ids.Pgid(t.ID)]; isLeader {
		return kerr.EPERM
	}
	oldPgid := t.Pgid()
	if oldpg, ok := tb.pgroups[oldPgid]; ok {
		delete(oldpg.Members, t.ID)
		if len(oldpg.Members) == 0 {
			delete(tb.pgroups, oldPgid)
		}
	}
	tb.pgroups[newPgid] = &ProcessGroup{ID: newPgid, Session: newSid, Members: map[ids.TaskID]struct{}{t.ID: {}}}
	tb.sessions[newSid] = &Session{ID: newSid, Leader: t.ID}
	t.setPgidSid(newPgid, newSid)
	t.SetTTY(nil)
	return nil
}

func (tb *Table) Getsid(t *Task) ids.Sid { return t.Sid() }

// AcquireControllingTTY implements controlling-terminal acquisition: a
// session leader with no controlling terminal that opens a terminal
// with no controlling session acquires it. The caller is responsible
// for checking (and then recording) the terminal's side of the pairing,
// since the table has no view into the tty's session field.
func (tb *Table) AcquireControllingTTY(t *Task, tty TTYHandle) error {
	tb.mu.Lock()
	s, ok := tb.sessions[t.Sid()]
	if !ok || s.Leader != t.ID {
		tb.mu.Unlock()
		return kerr.EPERM
	}
	if s.TTY != nil {
		tb.mu.Unlock()
		return kerr.EBUSY
	}
	s.TTY = tty
	tb.mu.Unlock()

	t.SetTTY(tty)
	return nil
}

func (tb *Table) ForegroundPgid(sid ids.Sid) (ids.Pgid, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	s, ok := tb.sessions[sid]
	if !ok {
		return 0, false
	}
	return s.ForegroundPgid, true
}

func (tb *Table) SetForegroundPgid(sid ids.Sid, pgid ids.Pgid) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if s, ok := tb.sessions[sid]; ok {
		s.ForegroundPgid = pgid
	}
}

// PIDs returns a snapshot of every live task id, for /proc enumeration.
func (tb *Table) PIDs() []ids.TaskID {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]ids.TaskID, 0, len(tb.tasks))
	for id := range tb.tasks {
		out = append(out, id)
	}
	return out
}

// SessionInfo is a read-only snapshot of one session, for
// /proc/debug/sessions.
type SessionInfo struct {
	ID             ids.Sid
	Leader         ids.TaskID
	ForegroundPgid ids.Pgid
	HasTTY         bool
}

func (tb *Table) Sessions() []SessionInfo {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]SessionInfo, 0, len(tb.sessions))
	for _, s := range tb.sessions {
		out = append(out, SessionInfo{ID: s.ID, Leader: s.Leader, ForegroundPgid: s.ForegroundPgid, HasTTY: s.TTY != nil})
	}
	return out
}

// groupMembers returns the snapshot of task ids currently in pgid.
func (tb *Table) groupMembers(pgid ids.Pgid) []ids.TaskID {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	pg, ok := tb.pgroups[pgid]
	if !ok {
		return nil
	}
	out := make([]ids.TaskID, 0, len(pg.Members))
	for id := range pg.Members {
		out = append(out, id)
	}
	return out
}
