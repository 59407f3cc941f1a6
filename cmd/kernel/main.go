// Command kernel boots MelloOS: loads configs/boot.toml (or a path
// given on the command line), brings up every CPU the simulated MADT
// names, spawns init, and blocks forever serving its /proc surface to
// cmd/melloctl over a Unix socket.
package main

import (
	"encoding/json"
	"flag"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/melloos/kernel/internal/config"
	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kernel"
	"github.com/melloos/kernel/internal/smp"
)

var (
	configPath = flag.String("config", "configs/boot.toml", "path to the boot configuration file")
	socketPath = flag.String("socket", "/tmp/melloos.sock", "unix socket the debug CLI connects to")
	ncpu       = flag.Int("ncpu", 1, "number of simulated CPUs to bring up")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		c, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = c
	}

	// A boot lock prevents two instances from racing over the same
	// debug socket, the way runsc guards its root directory.
	lock := flock.New(*configPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil || !locked {
		fatal(os.ErrExist)
	}
	defer lock.Unlock()

	k := kernel.New(cfg)
	madt := madtFor(*ncpu)
	if err := k.Boot(madt); err != nil {
		fatal(err)
	}
	k.Log.WithField("socket", *socketPath).Info("kernel: serving debug surface")

	if err := serveDebug(k, *socketPath); err != nil {
		fatal(err)
	}
}

func madtFor(n int) *smp.MADT {
	ids := make([]uint8, n)
	for i := range ids {
		ids[i] = uint8(i)
	}
	return &smp.MADT{ApicIDs: ids}
}

// serveDebug listens on socketPath and answers melloctl's simple
// line-oriented debug protocol: "ps", "sessions", "locks", "ptys", or
// "stat <pid>", one request per connection.
func serveDebug(k *kernel.Kernel, socketPath string) error {
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			k.Log.WithError(err).Warn("kernel: debug accept failed")
			continue
		}
		go handleDebugConn(k, conn)
	}
}

func handleDebugConn(k *kernel.Kernel, conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}
	fields := strings.Fields(string(buf[:n]))
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "sessions":
		conn.Write([]byte(k.ProcDebugSessions()))
	case "locks":
		conn.Write([]byte(k.ProcDebugLocks()))
	case "ptys":
		conn.Write([]byte(k.ProcDebugPtys()))
	case "stat":
		if len(fields) != 2 {
			conn.Write([]byte("usage: stat <pid>\n"))
			return
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			conn.Write([]byte("bad pid\n"))
			return
		}
		line, err := k.ProcStat(uintToTaskID(pid))
		if err != nil {
			conn.Write([]byte(err.Error() + "\n"))
			return
		}
		conn.Write([]byte(line + "\n"))
	case "ps":
		pids := k.Tasks.PIDs()
		enc := json.NewEncoder(conn)
		_ = enc.Encode(pids)
	default:
		conn.Write([]byte("unknown debug command\n"))
	}
}

func uintToTaskID(pid int) ids.TaskID { return ids.TaskID(pid) }

func fatal(err error) {
	os.Stderr.WriteString(err.Error() + "\n")
	os.Exit(1)
}
