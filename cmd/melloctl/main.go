// Command melloctl is the debug CLI for a running MelloOS instance:
// ps/sessions/locks/ptys/stat subcommands, each a thin client for the unix
// socket cmd/kernel serves its /proc surface over. Grounded on
// runsc/cli's subcommands.Register wiring.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	mcmd "github.com/melloos/kernel/cmd/melloctl/cmd"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(mcmd.PS), "")
	subcommands.Register(new(mcmd.Sessions), "")
	subcommands.Register(new(mcmd.Locks), "")
	subcommands.Register(new(mcmd.Ptys), "")
	subcommands.Register(new(mcmd.Stat), "")

	socket := flag.String("socket", "/tmp/melloos.sock", "unix socket the kernel is serving")
	flag.Parse()

	log := logrus.New()
	ctx := context.WithValue(context.Background(), mcmd.SocketKey, *socket)
	os.Exit(int(subcommands.Execute(ctx, log)))
}
