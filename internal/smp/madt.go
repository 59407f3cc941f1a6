package smp

// MADT is the firmware-supplied CPU topology bring-up takes as input:
// the local-APIC address and the list of per-CPU APIC ids. Boot
// handoff (where this table comes from) is an external collaborator;
// MelloOS only consumes it.
type MADT struct {
	LocalAPICAddr uint64
	ApicIDs       []uint8 // index 0 is always the BSP
}

func (m *MADT) valid() bool {
	return m != nil && len(m.ApicIDs) > 0
}
