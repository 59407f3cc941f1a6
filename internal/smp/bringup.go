// Package smp implements multi-CPU bring-up against the internal/hal
// local-APIC simulation, reproducing
// justanotherdot-biscuit's INIT-wait-SIPI-wait-online ascending AP
// bring-up sequence in pure Go.
package smp

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/melloos/kernel/internal/hal"
	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/percpu"
)

const (
	initWait  = 10 * time.Millisecond
	sipiWait  = 500 * time.Millisecond
	sipiVec   = 0x08 // trampoline page number, fixed low-memory region
	stackSize = 64 << 10
)

// TickFunc is invoked once per local-timer interrupt on cpu, after
// subsystem init has broadcast that interrupts may be enabled. It
// lives outside this package (the scheduler) to avoid smp depending
// on sched.
type TickFunc func(cpu ids.CpuID)

// Bringup owns the simulated hardware and orchestrates AP startup.
type Bringup struct {
	log      *logrus.Logger
	registry *percpu.Registry
	tickHz   uint32
	tick     TickFunc

	apic  *hal.LocalAPIC
	onlne *hal.Online
	idmap hal.IdentityMap

	interruptsEnabled sync.WaitGroup // released by EnableInterrupts
	enableOnce        sync.Once
	apWG              sync.WaitGroup
	shutdownOnce      sync.Once
	done              chan struct{}

	group singleflight.Group
}

func New(log *logrus.Logger, registry *percpu.Registry, tickHz uint32, tick TickFunc) *Bringup {
	b := &Bringup{log: log, registry: registry, tickHz: tickHz, tick: tick, done: make(chan struct{})}
	b.interruptsEnabled.Add(1)
	return b
}

// Shutdown stops every CPU's tick loop. Used by tests and by a clean
// kernel halt; idempotent.
func (b *Bringup) Shutdown() {
	b.shutdownOnce.Do(func() { close(b.done) })
}

// BringUpAllCPUs runs the four-step bring-up algorithm. It is safe to
// call concurrently: duplicate calls collapse onto a single in-flight
// bring-up via singleflight, since the trampoline scratch area may
// not be driven by two callers at once.
func (b *Bringup) BringUpAllCPUs(madt *MADT) (int, error) {
	v, err, _ := b.group.Do("bringup", func() (any, error) {
		return b.bringUpAllCPUs(madt)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (b *Bringup) bringUpAllCPUs(madt *MADT) (int, error) {
	if !madt.valid() {
		// A malformed MADT is fatal.
		panic("smp: malformed MADT: no APIC ids reported")
	}

	// An AP whose local APIC id reads as zero falls back to its logical
	// CPU id, so it never aliases the BSP's id.
	apicIDs := append([]uint8(nil), madt.ApicIDs...)
	for i := 1; i < len(apicIDs); i++ {
		if apicIDs[i] == 0 {
			b.log.Warn("smp: local APIC id read as zero on AP, falling back to logical CPU id")
			apicIDs[i] = uint8(i)
		}
	}

	b.apic = hal.NewLocalAPIC(apicIDs)
	b.onlne = hal.NewOnline()

	// Step 1: identity-map the first 2 MiB of physical memory.
	b.idmap.MapLow2MiB()

	// Step 2: "copy" the trampoline image; modeled as a log line since
	// there is no physical page to copy into.
	b.log.WithField("sipi_vector", fmt.Sprintf("0x%x", sipiVec)).Debug("smp: trampoline staged in low memory")

	bspID := ids.CpuID(0)
	bspAPIC := madt.ApicIDs[0]
	b.bringUpOne(bspID, bspAPIC, true)

	// Step 3: bring up APs strictly in ascending order; the trampoline
	// scratch area is shared and "do not proceed to the next AP until
	// this AP has reported online."
	for i := 1; i < len(apicIDs); i++ {
		apicID := apicIDs[i]
		cpuID := ids.CpuID(i)

		tramp := &hal.Trampoline{}
		tramp.Program(stackTopFor(i), uint32(cpuID), uint32(apicID), 0 /* paging root: external allocator's concern */)

		ch := b.apic.Inbox(apicID)

		b.apic.SendIPI(hal.IPI{DestAPICID: apicID, Mode: hal.DeliveryInit, Assert: true})
		time.Sleep(initWait)

		b.apWG.Add(1)
		go b.apEntry(cpuID, apicID, tramp, ch)

		b.apic.SendIPI(hal.IPI{DestAPICID: apicID, Mode: hal.DeliveryStartup, Vector: sipiVec})

		if !hal.WaitOnline(b.onlne, apicID, sipiWait) {
			b.log.WithField("apic_id", apicID).Warn("smp: AP did not respond to SIPI within 500ms, skipping")
			continue
		}
	}

	count := b.registry.Count()
	b.log.WithField("cpus_online", count).Info("smp: bring-up complete")
	return count, nil
}

// bringUpOne runs the BSP's own path, which skips INIT/SIPI (the BSP
// is already running firmware code) but otherwise performs the same
// publish/online/register sequence as an AP.
func (b *Bringup) bringUpOne(cpuID ids.CpuID, apicID uint8, isBSP bool) {
	idle := ids.TaskID(0) // replaced by the task package once spawned
	cpu := percpu.New(cpuID, apicID, b.tickHz, idle)
	b.registry.Add(cpu)
	cpu.Publish()
	b.onlne.Publish(apicID)
	b.apWG.Add(1)
	go func() {
		defer b.apWG.Done()
		b.runLoop(cpu)
	}()
}

// apEntry models the higher-half Rust-level entry point a real AP
// jumps to after the trampoline's real->protected->long mode
// transition: enable NX/WP, install GDT/IDT/syscall MSRs with the id
// passed as a parameter (never read from per-CPU storage, which is
// not yet published), set the per-CPU base register, publish,
// register online, configure the local timer, then idle-spin with
// interrupts disabled until the BSP broadcasts enable.
func (b *Bringup) apEntry(cpuID ids.CpuID, apicID uint8, tramp *hal.Trampoline, inbox <-chan hal.IPI) {
	defer b.apWG.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	select {
	case <-inbox:
	case <-time.After(sipiWait):
		return
	}

	scratch := tramp.Read()
	if !scratch.NXEnabled || !scratch.WPEnabled {
		panic("smp: AP trampoline did not enable NX/WP before entering long mode")
	}

	b.log.WithFields(logrus.Fields{"cpu": cpuID, "apic_id": apicID}).Debug("smp: AP installing GDT/TSS/IDT and syscall MSRs")

	cpu := percpu.New(cpuID, apicID, b.tickHz, ids.TaskID(0))
	cpu.Publish()
	b.registry.Add(cpu)
	b.onlne.Publish(apicID)

	b.runLoop(cpu)
}

// runLoop is the CPU's dedicated goroutine: the Go-idiomatic
// realization of "addressed via a CPU-local base register". It
// delivers cpu's timer ticks at tickHz once interrupts are enabled.
// It is not the only goroutine that changes cpu's scheduling state:
// sched's Wake and Continue run the reschedule point on whichever
// goroutine calls them.
func (b *Bringup) runLoop(cpu *percpu.Cpu) {
	b.interruptsEnabled.Wait()
	period := time.Second / time.Duration(cpu.TickHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			cpu.SetInInterrupt(true)
			cpu.TickOnce()
			if b.tick != nil {
				b.tick(cpu.ID)
			}
			cpu.SetInInterrupt(false)
		}
	}
}

// EnableInterrupts is the BSP's explicit "you may enable interrupts
// now" broadcast, issued only after every other subsystem has
// finished initializing. Idempotent.
func (b *Bringup) EnableInterrupts() {
	b.enableOnce.Do(func() { b.interruptsEnabled.Done() })
}

func stackTopFor(apIndex int) uintptr {
	return uintptr(0xa100004000 + apIndex*4*4096)
}
