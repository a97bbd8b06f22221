package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type WatchOptions struct {
	GlobalOptions

	StatusAddress string
	NoArchive     bool
	Output        string
}

func DefaultWatchOptions() *WatchOptions {
	return &WatchOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdWatch() *cobra.Command {
	o := DefaultWatchOptions()
	cmd := &cobra.Command{
		Use:   "watch FILE_ID",
		Short: "Attach to the progress stream of a job that is already running.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *WatchOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.StatusAddress, "status-address", o.StatusAddress, "Serve the local status API on this address while the job runs")
	fs.BoolVar(&o.NoArchive, "no-archive", o.NoArchive, "Do not keep the finished job in the local history")
	fs.StringVarP(&o.Output, "output", "o", o.Output, outputUsage())
}

func (o *WatchOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := validateFileID(args[0]); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *WatchOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	so := sessionOptions{
		statusAddress: o.StatusAddress,
		archive:       !o.NoArchive,
		checkHealth:   o.StatusAddress != "",
	}
	if isTable(o.Output) {
		so.progress = out
	}
	s, err := newSession(ctx, &o.GlobalOptions, so)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := s.tracker.Watch(ctx, args[0])
	if err != nil {
		return attachError(s.registry, args[0], err)
	}
	final, waitErr := s.tracker.Wait(ctx, sub)
	// progress lines are flushed before the summary
	s.Close()
	if err := printRecord(out, o.Output, final); err != nil {
		return err
	}
	return describeWaitError(final, waitErr)
}

// validateFileID accepts the uuids the backend hands out.
func validateFileID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid file id %q: %w", id, err)
	}
	return nil
}
