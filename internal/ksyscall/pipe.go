package ksyscall

import (
	"sync"

	"github.com/melloos/kernel/internal/ids"
)

// pipeBuffer is the shared byte queue backing one pipe(2) pair. A
// pipe has no line discipline or job control, unlike a PTY, but it
// still needs wait sets on both ends: a reader blocked on an empty
// pipe is woken by the next write (or by the write end closing), a
// writer blocked on a full pipe by the next read.
type pipeBuffer struct {
	mu             sync.Mutex
	data           []byte
	closed         bool
	readersBlocked map[ids.TaskID]struct{}
	writersBlocked map[ids.TaskID]struct{}
}

const pipeCapacity = 4096

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{
		readersBlocked: make(map[ids.TaskID]struct{}),
		writersBlocked: make(map[ids.TaskID]struct{}),
	}
}

type pipeReadEnd struct{ buf *pipeBuffer }
type pipeWriteEnd struct{ buf *pipeBuffer }

func (r pipeReadEnd) ReadFile(out []byte) (int, bool) {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	if len(r.buf.data) == 0 {
		return 0, !r.buf.closed
	}
	n := copy(out, r.buf.data)
	r.buf.data = r.buf.data[n:]
	return n, false
}

func (r pipeReadEnd) WriteFile(_ []byte) (int, bool) { return 0, false }

func (w pipeWriteEnd) WriteFile(in []byte) (int, bool) {
	w.buf.mu.Lock()
	defer w.buf.mu.Unlock()
	room := pipeCapacity - len(w.buf.data)
	if room <= 0 {
		return 0, true
	}
	n := len(in)
	if n > room {
		n = room
	}
	w.buf.data = append(w.buf.data, in[:n]...)
	return n, false
}

func (w pipeWriteEnd) ReadFile(_ []byte) (int, bool) { return 0, false }

func (w pipeWriteEnd) closeWrite() {
	w.buf.mu.Lock()
	w.buf.closed = true
	w.buf.mu.Unlock()
}

// blockReader/blockWriter record a task as waiting on this pipe; the
// syscall layer calls them immediately before parking the task, and
// takeReaders/takeWriters drain the set for the peer end to wake.
func (b *pipeBuffer) blockReader(t ids.TaskID) {
	b.mu.Lock()
	b.readersBlocked[t] = struct{}{}
	b.mu.Unlock()
}

func (b *pipeBuffer) blockWriter(t ids.TaskID) {
	b.mu.Lock()
	b.writersBlocked[t] = struct{}{}
	b.mu.Unlock()
}

func (b *pipeBuffer) takeReaders() []ids.TaskID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ids.TaskID, 0, len(b.readersBlocked))
	for t := range b.readersBlocked {
		out = append(out, t)
		delete(b.readersBlocked, t)
	}
	return out
}

func (b *pipeBuffer) takeWriters() []ids.TaskID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ids.TaskID, 0, len(b.writersBlocked))
	for t := range b.writersBlocked {
		out = append(out, t)
		delete(b.writersBlocked, t)
	}
	return out
}
