// Package pty implements the PTY multiplexer: master/slave ring
// buffers, termios-driven line discipline, window size, and
// foreground-pgid job control. Grounded on gVisor's
// pkg/sentry/fsimpl/devpts/master.go for the ioctl dispatch shape and
// the master/slave split, adapted from a vfs.FileDescription pair to
// a standalone struct pair since this core has no virtual filesystem.
package pty

import "golang.org/x/sys/unix"

const ncc = 20 // NCCS on linux/amd64, matches unix.Termios's layout

// Control character indices, matching the positions unix.Termios's
// Cc array uses on linux/amd64 (golang.org/x/sys/unix).
const (
	ccIntr = unix.VINTR
	ccQuit = unix.VQUIT
	ccErase = unix.VERASE
	ccEOF  = unix.VEOF
	ccSusp = unix.VSUSP
)

// Input/output/control/local flag bits this line discipline consults.
// Values match the standard termios bit positions so a Termios here
// is wire-compatible with unix.Termios.
const (
	ICANON = unix.ICANON
	ECHO   = unix.ECHO
	ISIG   = unix.ISIG
	IEXTEN = unix.IEXTEN
	TOSTOP = unix.TOSTOP
)

// Termios is the relevant subset of POSIX termios: the four flag
// words plus the control-character array, laid out compatibly with
// the widely used termios binary layout so TCGETS/TCSETS can copy it
// directly to and from a unix.Termios-shaped wire buffer.
type Termios struct {
	InputFlags   uint32
	OutputFlags  uint32
	ControlFlags uint32
	LocalFlags   uint32
	ControlChars [ncc]byte
}

// DefaultTermios returns the termios a freshly allocated PTY starts
// with: ICANON | ECHO | ISIG enabled, and the standard control
// character defaults.
func DefaultTermios() Termios {
	var t Termios
	t.LocalFlags = ICANON | ECHO | ISIG
	t.ControlChars[ccIntr] = 0x03
	t.ControlChars[ccQuit] = 0x1C
	t.ControlChars[ccSusp] = 0x1A
	t.ControlChars[ccEOF] = 0x04
	t.ControlChars[ccErase] = 0x7F
	return t
}

func (t Termios) canonical() bool { return t.LocalFlags&ICANON != 0 }
func (t Termios) echo() bool      { return t.LocalFlags&ECHO != 0 }
func (t Termios) isig() bool      { return t.LocalFlags&ISIG != 0 }
func (t Termios) tostop() bool    { return t.LocalFlags&TOSTOP != 0 }

// Winsize is the terminal window geometry reported by TIOCGWINSZ.
type Winsize struct {
	Rows uint16
	Cols uint16
}
