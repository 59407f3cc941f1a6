// Package ids holds the small integer identifier types shared across
// the scheduler, task, signal and pty packages. Keeping them in one
// leaf package is how this core avoids owning-reference cycles:
// cross-package references are small integer ids looked up in global
// tables, never owning pointers.
package ids

type TaskID uint32

type CpuID uint32

type Pgid int32

type Sid int32

// NoTask is the zero value meaning "no task", matching the Go
// convention of a reserved zero id rather than a pointer-typed
// Option.
const NoTask TaskID = 0
