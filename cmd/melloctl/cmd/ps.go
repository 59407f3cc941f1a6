package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// PS implements subcommands.Command for "ps": the list of live pids.
type PS struct{}

func (*PS) Name() string             { return "ps" }
func (*PS) Synopsis() string         { return "list live task ids" }
func (*PS) Usage() string            { return "ps - list every live task id\n" }
func (*PS) SetFlags(_ *flag.FlagSet) {}

func (p *PS) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	out, err := request(ctx, "ps")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}
