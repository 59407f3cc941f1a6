package signal

// Effects is the minimal interface the task package implements so
// that Deliver can apply a signal's effect without signal importing
// task and creating a cycle.
type Effects interface {
	// Terminate performs the default terminate/terminate-and-dump
	// action: sets exit_status to {signal, coreDumped} and marks the
	// task Zombie.
	Terminate(sig Signal, coreDumped bool)
	// StopTask performs the default stop action and wakes any parent
	// waiters with WUNTRACED.
	StopTask(sig Signal)
	// ContinueTask performs the default continue action and wakes any
	// parent waiters with WCONTINUED.
	ContinueTask(sig Signal)
	// EnterHandler builds the signal frame on the user stack and
	// arranges for user execution to resume at the handler.
	// prevBlocked is the blocked mask in effect just before this
	// signal's own bit (and ExtraMask) were added to it, for sigreturn
	// to restore later.
	EnterHandler(sig Signal, d Disposition, prevBlocked uint64)
}

// Deliver runs the signal delivery algorithm once, invoked on every
// return from kernel to user mode. It loops internally over Ignore
// dispositions until no deliverable signal remains.
func Deliver(s *State, eff Effects) {
	for {
		sig, ok := s.NextDeliverable()
		if !ok {
			return
		}
		s.ClearPending(sig)

		d := s.Disposition(sig)
		switch d.Kind {
		case DispIgnore:
			continue
		case DispHandler:
			blocked := s.Blocked()
			s.SetBlocked(blocked | bit(sig) | uint64(d.ExtraMask))
			eff.EnterHandler(sig, d, blocked)
			return
		default: // DispDefault
			switch DefaultAction(sig) {
			case ActionIgnore:
				continue
			case ActionTerminate:
				eff.Terminate(sig, false)
				return
			case ActionTerminateDump:
				eff.Terminate(sig, true)
				return
			case ActionStop:
				eff.StopTask(sig)
				return
			case ActionContinue:
				eff.ContinueTask(sig)
				return
			}
		}
	}
}
