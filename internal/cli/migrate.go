package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oceanomics/seqtrack/internal/store"
	"github.com/oceanomics/seqtrack/pkg/migrations"
)

type MigrateOptions struct {
	GlobalOptions
}

func NewCmdMigrate() *cobra.Command {
	o := &MigrateOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the local history database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	o.GlobalOptions.Bind(cmd.Flags())
	return cmd
}

// Run does not need a backend, so the client configuration is not validated.
func (o *MigrateOptions) Run(ctx context.Context, out io.Writer) error {
	db, err := store.InitDB(o.cfg)
	if err != nil {
		return fmt.Errorf("initializing local history: %w", err)
	}
	s := store.NewStore(db)
	defer s.Close()

	if err := migrations.MigrateStore(db, o.cfg.Database.Type); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	v, err := migrations.Version(db, o.cfg.Database.Type)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Fprintf(out, "Local history %s is at schema version %d\n", o.cfg.Database.Name, v)
	return nil
}
