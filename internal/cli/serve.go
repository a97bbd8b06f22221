package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"

	"github.com/oceanomics/seqtrack/internal/stream"
)

type ServeOptions struct {
	GlobalOptions

	StatusAddress string
	EventsFile    string
	NoArchive     bool
}

func DefaultServeOptions() *ServeOptions {
	return &ServeOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdServe() *cobra.Command {
	o := DefaultServeOptions()
	cmd := &cobra.Command{
		Use:   "serve [FILE_ID...]",
		Short: "Serve the local status API and follow the given jobs until interrupted.",
		Example: "seqtrack serve --status-address 0.0.0.0:3333 0b7a3f52-4d0e-4a8b-9f0a-0c3d2b1e7f11\n" +
			"seqtrack serve --events-file events.jsonl",
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

func (o *ServeOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.StatusAddress, "status-address", o.StatusAddress, "Address of the status API (SEQTRACK_STATUS_ADDRESS when empty)")
	fs.StringVar(&o.EventsFile, "events-file", o.EventsFile, "Append every job event to this file as a json cloudevent per line")
	fs.BoolVar(&o.NoArchive, "no-archive", o.NoArchive, "Do not keep finished jobs in the local history")
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.StatusAddress == "" {
		o.StatusAddress = o.cfg.Service.StatusAddress
	}
	return nil
}

func (o *ServeOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	for _, id := range args {
		if err := validateFileID(id); err != nil {
			return err
		}
	}
	if o.StatusAddress == "" {
		return fmt.Errorf("status address is required")
	}
	return nil
}

func (o *ServeOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	so := sessionOptions{
		progress:      out,
		statusAddress: o.StatusAddress,
		archive:       !o.NoArchive,
		checkHealth:   true,
	}
	if o.EventsFile != "" {
		f, err := os.OpenFile(o.EventsFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening events file: %w", err)
		}
		defer f.Close()
		so.eventsOut = f
	}

	s, err := newSession(ctx, &o.GlobalOptions, so)
	if err != nil {
		return err
	}
	defer s.Close()

	log := zap.S().Named("serve")
	log.Infof("serving status API on %s", o.StatusAddress)

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range args {
		g.Go(func() error {
			defer utilruntime.HandleCrash()
			return o.follow(gctx, s, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// follow keeps one job attached until it ends. A disconnected job is
// reported and left as it is, other jobs keep going.
func (o *ServeOptions) follow(ctx context.Context, s *session, fileID string) error {
	log := zap.S().Named("serve")
	sub, err := s.tracker.Watch(ctx, fileID)
	if err != nil {
		if errors.Is(err, stream.ErrDisconnected) || errors.Is(err, context.Canceled) {
			log.Warnw("job not followed", "file_id", fileID, "error", err)
			return nil
		}
		return fmt.Errorf("following %s: %w", fileID, err)
	}
	rec, err := s.tracker.Wait(ctx, sub)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warnw("stopped following job", "file_id", fileID, "status", rec.Status, "error", err)
		return nil
	}
	log.Infow("job finished", "file_id", fileID, "status", rec.Status)
	return nil
}
