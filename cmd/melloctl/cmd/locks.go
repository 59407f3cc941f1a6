package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// Locks implements subcommands.Command for "locks": each CPU's
// runqueue contention counter, matching /proc/debug/locks.
type Locks struct{}

func (*Locks) Name() string             { return "locks" }
func (*Locks) Synopsis() string         { return "show per-CPU runqueue lock contention" }
func (*Locks) Usage() string            { return "locks - show runqueue contention counters\n" }
func (*Locks) SetFlags(_ *flag.FlagSet) {}

func (l *Locks) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	out, err := request(ctx, "locks")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}
