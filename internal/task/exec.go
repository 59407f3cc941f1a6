package task

// Execve replaces t's program in place: new entry step function
// (standing in for a new address space), close-on-exec fds dropped,
// non-Ignore signal handlers reset to Default (their addresses point
// into the address space execve just destroyed), pid/pgid/sid/parent
// all preserved. The task keeps running under the same id throughout:
// there is no new goroutine, only a new function the run loop picks
// up on its next step.
func (t *Task) Execve(newEntry EntryFunc) {
	t.Fds.DropCloseOnExec()
	t.Signals.ResetHandlersToDefault()
	t.setEntry(newEntry)
}
