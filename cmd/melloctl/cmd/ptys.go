package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// Ptys implements subcommands.Command for "ptys": the multiplexer's
// current allocation count.
type Ptys struct{}

func (*Ptys) Name() string             { return "ptys" }
func (*Ptys) Synopsis() string         { return "show the PTY allocation table" }
func (*Ptys) Usage() string            { return "ptys - show how many PTY pairs are allocated\n" }
func (*Ptys) SetFlags(_ *flag.FlagSet) {}

func (p *Ptys) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	out, err := request(ctx, "ptys")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}
