package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oceanomics/seqtrack/internal/client"
)

type ConfigureOptions struct {
	GlobalOptions
}

func NewCmdConfigure() *cobra.Command {
	o := &ConfigureOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:     "configure",
		Short:   "Write the client configuration file.",
		Example: "seqtrack configure --server-url http://analysis.local:8000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	o.GlobalOptions.Bind(cmd.Flags())
	return cmd
}

func (o *ConfigureOptions) Validate(args []string) error {
	if o.ConfigFilePath == "" {
		return fmt.Errorf("a config file path is required")
	}
	return o.GlobalOptions.Validate(args)
}

func (o *ConfigureOptions) Run(ctx context.Context, out io.Writer) error {
	if err := client.WriteConfig(o.ConfigFilePath, o.Server()); err != nil {
		return fmt.Errorf("writing %s: %w", o.ConfigFilePath, err)
	}
	fmt.Fprintf(out, "Wrote %s for %s\n", o.ConfigFilePath, o.Server())
	return nil
}
