package pty

import "github.com/melloos/kernel/internal/kerr"

// Ioctl request numbers this core implements, matching the well-known
// Linux tty ioctl numbers so the wire format/behavior lines up with a
// real terminal driver even though no real TTY device exists here.
const (
	TIOCGWINSZ = 0x5413
	TIOCSWINSZ = 0x5414
	TIOCGPGRP  = 0x540F
	TIOCSPGRP  = 0x5410
	TCGETS     = 0x5401
	TCSETS     = 0x5402
	TIOCGPTN   = 0x80045430
)

// Ioctl dispatches the required ioctl set against the slave side of
// the pair, which is what a controlled process's fd normally refers
// to. arg is a pointer to a caller-owned buffer shaped for the
// request (Winsize, Termios, or a single int32 pgid); Ioctl never
// allocates it.
func (p *PtyPair) Ioctl(request uintptr, winArg *Winsize, termArg *Termios, pgidArg *int32) error {
	switch request {
	case TIOCGWINSZ:
		*winArg = p.Winsize()
		return nil
	case TIOCSWINSZ:
		p.SetWinsize(*winArg)
		return nil
	case TIOCGPGRP:
		pgid, ok := p.ForegroundPgid()
		if !ok {
			return kerr.ENOTTY
		}
		*pgidArg = int32(pgid)
		return nil
	case TIOCSPGRP:
		p.SetForegroundPgid(intToPgid(*pgidArg))
		return nil
	case TCGETS:
		*termArg = p.Termios()
		return nil
	case TCSETS:
		p.SetTermios(*termArg)
		return nil
	case TIOCGPTN:
		// Reports the slave index reserved when the master was opened
		// through the multiplexer.
		*pgidArg = int32(p.index)
		return nil
	default:
		return kerr.EINVAL
	}
}
