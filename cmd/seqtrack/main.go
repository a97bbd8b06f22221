package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oceanomics/seqtrack/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := NewSeqtrackCommand()
	if err := command.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func NewSeqtrackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seqtrack [flags] [options]",
		Short: "seqtrack follows sequence analysis jobs of the analysis backend.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdAnalyze())
	cmd.AddCommand(cli.NewCmdWatch())
	cmd.AddCommand(cli.NewCmdTrain())
	cmd.AddCommand(cli.NewCmdSequence())
	cmd.AddCommand(cli.NewCmdHistory())
	cmd.AddCommand(cli.NewCmdServe())
	cmd.AddCommand(cli.NewCmdMigrate())
	cmd.AddCommand(cli.NewCmdConfigure())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
