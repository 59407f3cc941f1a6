package task

import (
	"github.com/melloos/kernel/internal/kerr"
	"github.com/melloos/kernel/internal/sched"
	"github.com/melloos/kernel/internal/signal"
)

// Sigaction installs a disposition and, for DispHandler, the step
// function that represents the handler body. Real kernels store a
// user-space address and let the trap return into it; this
// simulation has no user-mode code to jump to, so the handler is just
// another EntryFunc, invoked once before the interrupted program
// resumes.
func (t *Task) Sigaction(sig signal.Signal, d signal.Disposition, handler EntryFunc) {
	t.mu.Lock()
	t.handlers[sig] = handler
	t.mu.Unlock()
	t.Signals.SetDisposition(sig, d)
}

// Run is the body of the dedicated goroutine backing one task: wait
// for a scheduling turn, deliver any pending signal before running
// user code (delivery happens on every return to user mode), run one
// step of the current program, yield the CPU back to the scheduler,
// and repeat until the program exits. If the loop ever falls through
// with a nil step function and no exit status recorded, that is a
// kernel bug (a task's program must always explicitly request exit
// or be terminated by a signal), so it panics loudly rather than
// leaking the goroutine silently.
func Run(tb *Table, t *Task) {
	for {
		tb.sched.WaitTurn(t.ID)
		if _, ok := t.ExitStatus(); ok {
			return
		}

		signal.Deliver(t.Signals, t)
		if _, ok := t.ExitStatus(); ok {
			return
		}
		if st, _ := t.State(); st == sched.Stopped {
			// Delivery just stopped this task; it is off every runqueue,
			// so park again without stepping until SIGCONT re-enqueues it.
			continue
		}

		if h, ok := t.TakePendingHandler(); ok {
			if fn := t.handlerFor(h.sig); fn != nil {
				fn(t)
			}
		} else {
			entry := t.Entry()
			if entry == nil {
				kerr.Fatal("task.Run", "task stepped with nil entry")
			}
			if exit, code := entry(t); exit {
				tb.Exit(t, t.HomeCPU(), ExitStatus{Exited: true, ExitCode: code})
				return
			}
		}

		tb.sched.YieldNow(t.HomeCPU())
	}
}

func (t *Task) handlerFor(sig signal.Signal) EntryFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[sig]
}
