// Package sched implements per-CPU runqueues, round-robin within each
// queue, size-based placement and periodic rebalance, tick-driven
// preemption, and cross-CPU wake via IPI.
//
// Grounded on the toysched P/M work model (github's GopherCon Africa
// 2025 "Unlocking Go's Potential" talk sample) for the overall shape
// of a multi-processor run-queue scheduler expressed in Go, and on
// gVisor's Task.Yield (runtime.Gosched wrapping a bookkeeping
// counter) for yield_now.
//
// sched sits below the task package in the dependency graph, so
// TaskState lives here and the task package imports it, not the
// other way around.
package sched

import "github.com/melloos/kernel/internal/ids"

// TaskState is a discriminated sum of a task's scheduling state. The
// Sleeping variant's payload (WaitReason) is carried alongside rather
// than inside the enum, since Go has no sum types.
type TaskState int

const (
	Ready TaskState = iota
	Running
	Sleeping
	Stopped
	Zombie
)

func (s TaskState) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Stopped:
		return "Stopped"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// WaitReason names what a Sleeping task is waiting on, for
// /proc/debug introspection and for waking the right subsystem.
type WaitReason string

const (
	WaitNone      WaitReason = ""
	WaitChild     WaitReason = "child"
	WaitPTYRead   WaitReason = "pty-read"
	WaitPTYWrite  WaitReason = "pty-write"
	WaitPipeRead  WaitReason = "pipe-read"
	WaitPipeWrite WaitReason = "pipe-write"
	WaitSignal    WaitReason = "signal"
	WaitTimer     WaitReason = "timer"
)

type record struct {
	state  TaskState
	reason WaitReason
	home   ids.CpuID
	slice  uint32 // ticks remaining in the current quantum
	ticks  uint64 // cumulative ticks received, for S1's fairness check
	turn   chan struct{}
}
