// Command mellotty is a demo harness that bridges a real host
// pseudo-terminal to an in-process MelloOS instance's console PTY,
// exercising the line discipline end to end against a real terminal
// rather than a test double. Grounded on containerd/console's
// raw-mode dance and kr/pty's master/slave allocation.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/console"
	hostpty "github.com/kr/pty"

	"github.com/melloos/kernel/internal/config"
	"github.com/melloos/kernel/internal/kernel"
	kernelpty "github.com/melloos/kernel/internal/pty"
	"github.com/melloos/kernel/internal/smp"
)

func main() {
	flag.Parse()

	k := kernel.New(config.Default())
	if err := k.Boot(&smp.MADT{ApicIDs: []uint8{0}}); err != nil {
		fatal(err)
	}
	defer k.Shutdown()

	master, slave, err := hostpty.Open()
	if err != nil {
		fatal(err)
	}
	defer slave.Close()
	defer master.Close()

	current := console.Current()
	defer current.Reset()
	if err := current.SetRaw(); err != nil {
		fatal(err)
	}

	hostMaster, err := console.ConsoleFromFile(master)
	if err != nil {
		fatal(err)
	}

	syncWinsize(k, current)
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			syncWinsize(k, current)
		}
	}()

	go pumpHostToKernel(k, hostMaster)
	pumpKernelToHost(k, hostMaster)
}

// syncWinsize copies the real terminal's current size onto the
// kernel's console, fanning SIGWINCH to the foreground process group
// the same way a real resize would.
func syncWinsize(k *kernel.Kernel, c console.Console) {
	size, err := c.Size()
	if err != nil {
		return
	}
	k.Console.SetWinsize(kernelpty.Winsize{Rows: uint16(size.Height), Cols: uint16(size.Width)})
}

// pumpHostToKernel copies host keystrokes into the kernel console's
// master side, where the line discipline processes them exactly as
// it would for any other master writer.
func pumpHostToKernel(k *kernel.Kernel, host console.Console) {
	buf := make([]byte, 256)
	for {
		n, err := host.Read(buf)
		if n > 0 {
			k.Console.WriteMaster(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// pumpKernelToHost polls the kernel console's master side for output
// the shell wrote to its slave, and forwards it to the real terminal.
// A poll loop is used rather than a blocking read since this bridge
// runs outside the kernel's own task/scheduler model.
func pumpKernelToHost(k *kernel.Kernel, host console.Console) {
	buf := make([]byte, 4096)
	for {
		if k.Console.MasterHasData() {
			n := k.Console.ReadMaster(buf)
			if n > 0 {
				host.Write(buf[:n])
			}
			continue
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func fatal(err error) {
	os.Stderr.WriteString(err.Error() + "\n")
	os.Exit(1)
}
