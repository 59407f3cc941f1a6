package hal

import "sync/atomic"

// Trampoline models the fixed low-memory scratch area bring-up uses:
// a shared page the BSP writes AP boot parameters into (stack top,
// logical CPU id, APIC id) before sending INIT+SIPI, guarded by a
// fence because the area is reused for every AP in turn; concurrent
// use would corrupt it.
//
// Grounded on biscuit's `ss` secret-storage array at 0x7c00 written
// with atomic.StoreUintptr before each AP's INIT/SIPI pair.
type Trampoline struct {
	stackTop   atomic.Uintptr
	logicalID  atomic.Uint32
	apicID     atomic.Uint32
	nxEnabled  atomic.Bool
	wpEnabled  atomic.Bool
	pagingRoot atomic.Uintptr
}

// Program writes the per-AP scratch values and the mandatory
// NX/WP/paging-root state the trampoline must establish before
// jumping to long mode: NX enabled in EFER, write-protect enabled in
// CR0, and the pre-built page table root loaded.
func (t *Trampoline) Program(stackTop uintptr, logicalID, apicID uint32, pagingRoot uintptr) {
	t.stackTop.Store(stackTop)
	t.logicalID.Store(logicalID)
	t.apicID.Store(apicID)
	t.pagingRoot.Store(pagingRoot)
	t.nxEnabled.Store(true)
	t.wpEnabled.Store(true)
}

// Scratch is a snapshot of the values a just-SIPI'd AP would read out
// of the trampoline page.
type Scratch struct {
	StackTop   uintptr
	LogicalID  uint32
	APICID     uint32
	PagingRoot uintptr
	NXEnabled  bool
	WPEnabled  bool
}

func (t *Trampoline) Read() Scratch {
	return Scratch{
		StackTop:   t.stackTop.Load(),
		LogicalID:  t.logicalID.Load(),
		APICID:     t.apicID.Load(),
		PagingRoot: t.pagingRoot.Load(),
		NXEnabled:  t.nxEnabled.Load(),
		WPEnabled:  t.wpEnabled.Load(),
	}
}

// IdentityMap models the first step of bring-up: identity-mapping the
// first 2 MiB of physical memory so the trampoline is addressable
// through the same mapping the AP uses immediately after enabling
// paging. The core does not manage real page tables (the page
// allocator is an external collaborator), so this is recorded as a
// fact the rest of bring-up can assert on.
type IdentityMap struct {
	mapped atomic.Bool
}

func (m *IdentityMap) MapLow2MiB() { m.mapped.Store(true) }
func (m *IdentityMap) Mapped() bool { return m.mapped.Load() }
