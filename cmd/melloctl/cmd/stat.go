package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// Stat implements subcommands.Command for "stat <pid>": /proc/<pid>/stat.
type Stat struct{}

func (*Stat) Name() string             { return "stat" }
func (*Stat) Synopsis() string         { return "show one task's /proc/<pid>/stat line" }
func (*Stat) Usage() string            { return "stat <pid> - show a task's stat line\n" }
func (*Stat) SetFlags(_ *flag.FlagSet) {}

func (s *Stat) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out, err := request(ctx, "stat "+f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}
