package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// Sessions implements subcommands.Command for "sessions": one line
// per session (sid, leader, foreground pgid, controlling-terminal
// presence), matching /proc/debug/sessions.
type Sessions struct{}

func (*Sessions) Name() string             { return "sessions" }
func (*Sessions) Synopsis() string         { return "list sessions and their foreground process group" }
func (*Sessions) Usage() string            { return "sessions - list sessions\n" }
func (*Sessions) SetFlags(_ *flag.FlagSet) {}

func (s *Sessions) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	out, err := request(ctx, "sessions")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}
