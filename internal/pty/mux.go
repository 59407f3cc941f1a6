package pty

import "sync"

// Mux is the PTY multiplexer: opening it allocates the next free pair
// index and hands back the pair, whose slave side stays reachable by
// that index until both ends are closed and the pair is released.
type Mux struct {
	mu    sync.Mutex
	next  uint16
	pairs map[uint16]*muxEntry
	jc    JobControl
	waker Waker
}

type muxEntry struct {
	pair *PtyPair
	refs int
}

func NewMux(jc JobControl, waker Waker) *Mux {
	return &Mux{pairs: make(map[uint16]*muxEntry), jc: jc, waker: waker}
}

// Open allocates a fresh pair under the next free index, counted as
// one open reference (the master side).
func (m *Mux) Open() *PtyPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.next
	m.next++
	p := New(idx, m.jc, m.waker)
	m.pairs[idx] = &muxEntry{pair: p, refs: 1}
	return p
}

// Get looks up the pair reserved under index and adds an open
// reference (the slave side).
func (m *Mux) Get(index uint16) (*PtyPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pairs[index]
	if !ok {
		return nil, false
	}
	e.refs++
	return e.pair, true
}

// Release drops one open reference; the pair is freed once the last
// one is gone. Indices the mux never allocated are ignored.
func (m *Mux) Release(index uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pairs[index]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.pairs, index)
	}
}

// Count reports how many pairs are currently allocated, for the /proc
// surface and tests.
func (m *Mux) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs)
}
