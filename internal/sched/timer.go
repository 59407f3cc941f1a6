package sched

import "github.com/melloos/kernel/internal/ids"

// SleepTicks puts t to sleep with reason WaitTimer and arranges for
// Tick to wake it again once `ticks` further ticks (from any CPU) have
// elapsed, modeling nanosleep against this kernel's tick counter
// rather than a wall-clock timer, since there is no real timer
// hardware backing it.
func (s *Scheduler) SleepTicks(t ids.TaskID, ticks uint64) {
	s.Block(t, WaitTimer)

	s.mu.Lock()
	if s.timers == nil {
		s.timers = make(map[ids.TaskID]uint64)
	}
	s.timers[t] = s.globalTicks + ticks
	s.mu.Unlock()
}

// tickTimers runs on every Tick call: it is folded into the global
// tick counter and wakes any timer whose deadline has passed.
func (s *Scheduler) tickTimers(cpu ids.CpuID) {
	s.mu.Lock()
	s.globalTicks++
	now := s.globalTicks
	var due []ids.TaskID
	for t, deadline := range s.timers {
		if now >= deadline {
			due = append(due, t)
			delete(s.timers, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.Wake(t, cpu)
	}
}
