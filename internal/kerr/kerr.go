// Package kerr defines the small POSIX-flavoured error taxonomy shared
// across every kernel-internal package. Handlers compare these with
// errors.Is, never by formatted string.
package kerr

import "errors"

var (
	EINVAL = errors.New("invalid argument")
	EPERM  = errors.New("permission denied")
	ESRCH  = errors.New("no such id")
	EBUSY  = errors.New("resource busy")
	EAGAIN = errors.New("resource unavailable, try again")
	ENODEV = errors.New("no such device")
	ENOTTY = errors.New("not a terminal")
	EINTR  = errors.New("interrupted")
	ENOMEM = errors.New("out of memory")
	EFAULT = errors.New("bad address")
	ECHILD = errors.New("no child processes")
	EPIPE  = errors.New("broken pipe")
	EIO    = errors.New("i/o error")
)

// Fatal panics with a uniform message of the form "where: detail" for
// an unrecoverable kernel condition. It adds no CPU, task, syscall or
// instruction-pointer context of its own; any such context must be in
// where or detail. The stack comes from Go's own panic unwind.
func Fatal(where string, detail any) {
	panic(where + ": " + formatDetail(detail))
}

func formatDetail(detail any) string {
	if s, ok := detail.(string); ok {
		return s
	}
	if err, ok := detail.(error); ok {
		return err.Error()
	}
	return "fatal condition"
}
