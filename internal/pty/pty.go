package pty

import (
	"sync"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/signal"
)

// JobControl is the minimal surface a PtyPair needs to generate
// job-control signals, kept abstract so pty does not depend on task
// (task already depends on pty indirectly through TTYHandle; a direct
// import back would cycle).
type JobControl interface {
	SignalGroup(pgid ids.Pgid, sig signal.Signal)
}

// Waker lets a PtyPair resume a task blocked on a read that just
// became satisfiable. *sched.Scheduler satisfies this.
type Waker interface {
	Wake(t ids.TaskID, callerCPU ids.CpuID)
}

// AccessResult is what the line discipline decided about a
// background access attempt under TOSTOP / job control.
type AccessResult int

const (
	// AccessOK: the read or write may proceed.
	AccessOK AccessResult = iota
	// AccessSuspend: SIGTTIN/SIGTTOU was delivered to the caller's
	// group and was neither ignored nor blocked; the caller must stop
	// itself (task.StopTask) rather than complete the operation.
	AccessSuspend
	// AccessError: a background read whose SIGTTIN is ignored or
	// blocked, so the call fails with EIO instead of blocking forever.
	// Orphaned process groups are not detected.
	AccessError
)

// PtyPair is one master/slave terminal device pair: a bidirectional
// byte path through a line discipline, plus the window size and
// foreground process group state that makes job control possible.
// Grounded on gVisor's pkg/sentry/fsimpl/devpts/master.go: the same
// master/slave split, termios-driven processing, and checkChange-style
// background access gating, adapted from a vfs.FileDescription pair to
// a standalone struct pair.
type PtyPair struct {
	mu sync.Mutex

	index uint16

	// masterBuf holds bytes readable from the master side: slave
	// output plus the local echo of processed input.
	masterBuf *ringBuffer
	// slaveBuf holds bytes readable from the slave side: canonicalized
	// input ready for the controlled process to read.
	slaveBuf *ringBuffer
	// pendingLine accumulates a not-yet-terminated canonical line.
	pendingLine []byte

	termios Termios
	winsize Winsize

	hasForegroundPgid bool
	foregroundPgid    ids.Pgid
	hasSession        bool
	session           ids.Sid

	readersBlockedMaster map[ids.TaskID]struct{}
	readersBlockedSlave  map[ids.TaskID]struct{}

	jobControl JobControl
	waker      Waker
}

// New allocates a PtyPair at the given index (the /dev/pts/<index>
// style identity reported via /proc), with the documented termios
// defaults and an empty 24x80 window.
func New(index uint16, jc JobControl, waker Waker) *PtyPair {
	return &PtyPair{
		index:                index,
		masterBuf:            newRingBuffer(defaultRingCapacity),
		slaveBuf:             newRingBuffer(defaultRingCapacity),
		termios:              DefaultTermios(),
		winsize:              Winsize{Rows: 24, Cols: 80},
		readersBlockedMaster: make(map[ids.TaskID]struct{}),
		readersBlockedSlave:  make(map[ids.TaskID]struct{}),
		jobControl:           jc,
		waker:                waker,
	}
}

// Index implements task.TTYHandle.
func (p *PtyPair) Index() uint16 { return p.index }

func (p *PtyPair) Termios() Termios {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termios
}

// SetTermios installs new line-discipline settings (TCSETS).
func (p *PtyPair) SetTermios(t Termios) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.termios = t
}

func (p *PtyPair) Winsize() Winsize {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.winsize
}

// SetWinsize implements TIOCSWINSZ: updates the geometry atomically
// and fans SIGWINCH out to every task in the foreground process
// group, since a resized terminal is a job-control event the whole
// foreground job must see, not just whichever task issued the ioctl.
func (p *PtyPair) SetWinsize(w Winsize) {
	p.mu.Lock()
	p.winsize = w
	fg, hasFg := p.foregroundPgid, p.hasForegroundPgid
	p.mu.Unlock()

	if hasFg && p.jobControl != nil {
		p.jobControl.SignalGroup(fg, signal.SIGWINCH)
	}
}

// ForegroundPgid implements tcgetpgrp.
func (p *PtyPair) ForegroundPgid() (ids.Pgid, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foregroundPgid, p.hasForegroundPgid
}

// SetForegroundPgid implements tcsetpgrp.
func (p *PtyPair) SetForegroundPgid(pgid ids.Pgid) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foregroundPgid, p.hasForegroundPgid = pgid, true
}

func (p *PtyPair) Session() (ids.Sid, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.hasSession
}

// SetSession is called once, when a session leader acquires this pty
// as its controlling terminal.
func (p *PtyPair) SetSession(sid ids.Sid) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session, p.hasSession = sid, true
}

// CheckBackgroundAccess implements the TOSTOP-gated job-control
// access rule: a write from a task outside the foreground pgroup with
// TOSTOP set, or any read from outside the foreground pgroup, must
// check against SIGTTOU/SIGTTIN before proceeding. ignoredOrBlocked
// reflects the calling task's own disposition for sig, which pty has
// no way to inspect itself.
func (p *PtyPair) CheckBackgroundAccess(callerPgid ids.Pgid, isWrite bool, ignoredOrBlocked bool) AccessResult {
	p.mu.Lock()
	fg, hasFg := p.foregroundPgid, p.hasForegroundPgid
	tostop := p.termios.tostop()
	p.mu.Unlock()

	if !hasFg || callerPgid == fg {
		return AccessOK
	}
	if isWrite && !tostop {
		return AccessOK
	}

	sig := signal.SIGTTOU
	if !isWrite {
		sig = signal.SIGTTIN
	}
	if ignoredOrBlocked {
		if isWrite {
			// A write with SIGTTOU ignored/blocked proceeds silently.
			return AccessOK
		}
		return AccessError
	}
	if p.jobControl != nil {
		p.jobControl.SignalGroup(callerPgid, sig)
	}
	return AccessSuspend
}

// WriteMaster feeds host keystrokes through the line discipline: ISIG
// characters generate job-control signals instead of being buffered,
// ICANON accumulates a line until a terminator or ERASE edits it, and
// ECHO mirrors processed bytes back to the master side so the host
// sees what it typed.
func (p *PtyPair) WriteMaster(data []byte) int {
	p.mu.Lock()

	fg, hasFg := p.foregroundPgid, p.hasForegroundPgid
	var pending []signal.Signal
	for _, b := range data {
		if p.termios.isig() {
			switch b {
			case p.termios.ControlChars[ccIntr]:
				pending = append(pending, signal.SIGINT)
				p.echoLocked(b)
				continue
			case p.termios.ControlChars[ccQuit]:
				pending = append(pending, signal.SIGQUIT)
				p.echoLocked(b)
				continue
			case p.termios.ControlChars[ccSusp]:
				pending = append(pending, signal.SIGTSTP)
				p.echoLocked(b)
				continue
			}
		}

		if !p.termios.canonical() {
			if p.slaveBuf.PushByte(b) {
				p.echoLocked(b)
			}
			continue
		}

		switch {
		case b == p.termios.ControlChars[ccErase]:
			if len(p.pendingLine) > 0 {
				p.pendingLine = p.pendingLine[:len(p.pendingLine)-1]
			}
			p.echoLocked(b)
		case b == '\n' || b == p.termios.ControlChars[ccEOF]:
			for _, lb := range p.pendingLine {
				p.slaveBuf.PushByte(lb)
			}
			if b == '\n' {
				p.slaveBuf.PushByte('\n')
			}
			p.pendingLine = p.pendingLine[:0]
			p.echoLocked(b)
		default:
			p.pendingLine = append(p.pendingLine, b)
			p.echoLocked(b)
		}
	}
	p.wakeBlockedLocked(p.readersBlockedSlave)
	p.mu.Unlock()

	if hasFg && p.jobControl != nil {
		for _, sig := range pending {
			p.jobControl.SignalGroup(fg, sig)
		}
	}
	return len(data)
}

func (p *PtyPair) echoLocked(b byte) {
	if p.termios.echo() {
		p.masterBuf.PushByte(b)
	}
}

// WriteSlave accepts process output and makes it available on the
// master side unprocessed; output post-processing (OPOST) is not
// implemented since no component of this kernel needs column-aware
// output translation.
func (p *PtyPair) WriteSlave(data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range data {
		if !p.masterBuf.PushByte(b) {
			break
		}
		n++
	}
	p.wakeBlockedLocked(p.readersBlockedMaster)
	return n
}

// ReadMaster copies whatever the slave has written (plus local echo)
// into out, returning the count copied.
func (p *PtyPair) ReadMaster(out []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.masterBuf.PopFront(out)
}

// ReadSlave copies canonicalized input into out.
func (p *PtyPair) ReadSlave(out []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slaveBuf.PopFront(out)
}

func (p *PtyPair) MasterHasData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.masterBuf.Empty()
}

func (p *PtyPair) SlaveHasData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.slaveBuf.Empty()
}

// BlockReaderOnMaster/BlockReaderOnSlave record a task as waiting for
// data; the ksyscall layer calls these before parking the task with
// task.BlockSelf(sched.WaitPTYRead), and the corresponding writer call
// above wakes every blocked reader once bytes are available.
func (p *PtyPair) BlockReaderOnMaster(t ids.TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readersBlockedMaster[t] = struct{}{}
}

func (p *PtyPair) BlockReaderOnSlave(t ids.TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readersBlockedSlave[t] = struct{}{}
}

func (p *PtyPair) wakeBlockedLocked(set map[ids.TaskID]struct{}) {
	if len(set) == 0 || p.waker == nil {
		return
	}
	for t := range set {
		delete(set, t)
		p.waker.Wake(t, 0)
	}
}

func intToPgid(v int32) ids.Pgid { return ids.Pgid(v) }
