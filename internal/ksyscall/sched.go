package ksyscall

import "github.com/melloos/kernel/internal/task"

// SchedYield implements sched_yield(2): give up the rest of the
// current quantum without blocking.
func (s *Syscalls) SchedYield(caller *task.Task) {
	s.Tasks.Sched().YieldNow(caller.HomeCPU())
}

// Nanosleep implements nanosleep(2), modeled as sleeping for a number
// of scheduler ticks rather than a wall-clock duration, since this
// kernel has no real timer hardware backing it.
func (s *Syscalls) Nanosleep(caller *task.Task, ticks uint64) {
	s.Tasks.Sched().SleepTicks(caller.ID, ticks)
	s.Tasks.Sched().WaitTurn(caller.ID)
}
