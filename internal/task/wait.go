package task

import (
	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/sched"
)

// WaitOpts mirrors the wait4 flag bits a caller can request.
type WaitOpts struct {
	Untraced  bool // report stopped children
	Continued bool // report continued children
	NoHang    bool // return immediately if nothing is ready
}

type waitResult struct {
	id     ids.TaskID
	status ExitStatus
}

// Wait4 blocks parent until a matching child changes state (exits,
// stops if Untraced, or continues if Continued), then returns that
// child's id and status. target follows the wait4(2) convention:
// -1 means any child, 0 means any child in the caller's own process
// group, < -1 means any child in process group -target, and > 0 means
// one specific child id. Exited children are reaped before returning.
// target is signed (unlike ids.TaskID) because the wait4(2) calling
// convention itself overloads sign to distinguish a pid from a pgid.
func (tb *Table) Wait4(parent *Task, target int32, opts WaitOpts) (ids.TaskID, ExitStatus, error) {
	matches := func(c *Task) bool {
		switch {
		case target == -1:
			return true
		case target == 0:
			return c.Pgid() == parent.Pgid()
		case target < -1:
			return c.Pgid() == ids.Pgid(-target)
		default:
			return c.ID == ids.TaskID(target)
		}
	}

	tb.mu.Lock()
	for {
		res, anyChildren := tb.scanChildren(parent, matches, opts)
		if !anyChildren {
			tb.mu.Unlock()
			return ids.NoTask, ExitStatus{}, kerr.ECHILD
		}
		if res != nil {
			tb.mu.Unlock()
			if res.status.Exited || res.status.Signaled {
				if c, ok := tb.Get(res.id); ok {
					tb.reap(c)
				}
			}
			return res.id, res.status, nil
		}
		if opts.NoHang {
			tb.mu.Unlock()
			return ids.NoTask, ExitStatus{}, nil
		}
		tb.mu.Unlock()
		parent.BlockSelf(sched.WaitChild)
		tb.mu.Lock()
	}
}

// scanChildren must be called with tb.mu held. It returns the first
// matching child whose state justifies waking the waiter, preferring
// exit over stop over continue.
func (tb *Table) scanChildren(parent *Task, matches func(*Task) bool, opts WaitOpts) (*waitResult, bool) {
	anyChildren := false
	var stopped, continued *Task
	for cid := range parent.children {
		c, ok := tb.tasks[cid]
		if !ok || !matches(c) {
			continue
		}
		anyChildren = true
		st, _ := c.State()
		switch {
		case st == sched.Zombie:
			status, _ := c.ExitStatus()
			return &waitResult{id: c.ID, status: status}, true
		case st == sched.Stopped && opts.Untraced && stopped == nil:
			stopped = c
		case opts.Continued && continued == nil && c.takeContinued():
			continued = c
		}
	}
	if stopped != nil {
		return &waitResult{id: stopped.ID, status: ExitStatus{Stopped: true}}, true
	}
	if continued != nil {
		return &waitResult{id: continued.ID, status: ExitStatus{Continued: true}}, true
	}
	return nil, anyChildren
}
