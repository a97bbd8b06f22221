package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"

	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/export"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/render"
	"github.com/oceanomics/seqtrack/internal/store"
	"github.com/oceanomics/seqtrack/internal/store/model"
)

var jobStatuses = []string{
	string(registry.StatusUploading),
	string(registry.StatusRunning),
	string(registry.StatusComplete),
	string(registry.StatusError),
}

type HistoryOptions struct {
	GlobalOptions

	Local  bool
	Type   string
	Status []string
	Limit  int
	Export string
	Output string
}

func DefaultHistoryOptions() *HistoryOptions {
	return &HistoryOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdHistory() *cobra.Command {
	o := DefaultHistoryOptions()
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past training and analysis jobs.",
		Example: "seqtrack history\n" +
			"seqtrack history --local --status complete -o yaml\n" +
			"seqtrack history --export history.xlsx",
		Args: cobra.NoArgs,
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
	o.Bind(cmd.Flags())

	cmd.AddCommand(NewCmdHistoryShow())
	cmd.AddCommand(NewCmdHistoryDelete())
	cmd.AddCommand(NewCmdHistoryClear())
	return cmd
}

func (o *HistoryOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVar(&o.Local, "local", o.Local, "List the jobs archived on this machine instead of the backend history")
	fs.StringVar(&o.Type, "type", o.Type, "Only list backend entries of this type (analysis, training)")
	fs.StringSliceVar(&o.Status, "status", o.Status, fmt.Sprintf("Only list local jobs in these states. Any of: (%s).", strings.Join(jobStatuses, ", ")))
	fs.IntVar(&o.Limit, "limit", o.Limit, "Maximum number of local jobs to list")
	fs.StringVar(&o.Export, "export", o.Export, "Also write the history to this .xlsx file")
	fs.StringVarP(&o.Output, "output", "o", o.Output, outputUsage())
}

func (o *HistoryOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := validateOutput(o.Output); err != nil {
		return err
	}
	for _, s := range o.Status {
		if !funk.ContainsString(jobStatuses, s) {
			return fmt.Errorf("status must be any of %s", strings.Join(jobStatuses, ", "))
		}
	}
	if o.Type != "" {
		if _, ok := historyKinds[strings.ToLower(o.Type)]; !ok {
			return fmt.Errorf("invalid history kind: %s", o.Type)
		}
		if o.Local {
			return fmt.Errorf("--type applies to the backend history only")
		}
	}
	if o.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if o.Export != "" && !strings.EqualFold(filepath.Ext(o.Export), ".xlsx") {
		return fmt.Errorf("export file must have the .xlsx extension")
	}
	return nil
}

func (o *HistoryOptions) Run(ctx context.Context, out io.Writer) error {
	var (
		entries []client.HistoryEntry
		jobs    model.JobList
		err     error
	)

	if o.Local || o.Export != "" {
		if jobs, err = o.localJobs(ctx); err != nil {
			return err
		}
	}
	if !o.Local {
		if entries, err = o.remoteEntries(ctx); err != nil {
			return err
		}
	}

	if o.Export != "" {
		if err := writeExport(o.Export, entries, jobs); err != nil {
			return err
		}
	}

	if o.Local {
		return printOutput(out, o.Output, jobs, func(w io.Writer) error {
			return render.LocalHistory(w, jobs)
		})
	}
	return printOutput(out, o.Output, entries, func(w io.Writer) error {
		return render.History(w, entries)
	})
}

func (o *HistoryOptions) remoteEntries(ctx context.Context) ([]client.HistoryEntry, error) {
	entries, err := o.Backend().History(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if o.Type == "" {
		return entries, nil
	}
	typ := historyKinds[strings.ToLower(o.Type)]
	return funk.Filter(entries, func(e client.HistoryEntry) bool {
		return e.Type == typ
	}).([]client.HistoryEntry), nil
}

func (o *HistoryOptions) localJobs(ctx context.Context) (model.JobList, error) {
	st, err := openStore(&o.GlobalOptions)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	filter := store.NewJobQueryFilter().WithLimit(o.Limit)
	if len(o.Status) > 0 {
		filter = filter.ByStatus(o.Status...)
	}
	jobs, err := st.Job().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing local history: %w", err)
	}
	return jobs, nil
}

func writeExport(path string, entries []client.HistoryEntry, jobs model.JobList) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := export.WriteHistory(f, entries, jobs); err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting history: %w", err)
	}
	return f.Close()
}

type HistoryShowOptions struct {
	GlobalOptions

	Output string
}

func NewCmdHistoryShow() *cobra.Command {
	o := &HistoryShowOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:     "show ID",
		Short:   "Show one job of the local history.",
		Example: "seqtrack history show 0b7a3f52-4d0e-4a8b-9f0a-0c3d2b1e7f11 -o json",
		Args:    cobra.ExactArgs(1),
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
	o.GlobalOptions.Bind(cmd.Flags())
	cmd.Flags().StringVarP(&o.Output, "output", "o", o.Output, outputUsage())
	return cmd
}

func (o *HistoryShowOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *HistoryShowOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	st, err := openStore(&o.GlobalOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := st.Job().Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("local job %s not found", args[0])
		}
		return fmt.Errorf("reading local job %s: %w", args[0], err)
	}
	return printOutput(out, o.Output, job, func(w io.Writer) error {
		return render.ArchivedJob(w, *job)
	})
}

type HistoryDeleteOptions struct {
	GlobalOptions

	Local bool
}

func NewCmdHistoryDelete() *cobra.Command {
	o := &HistoryDeleteOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:   "delete (TYPE/ID | ID --local)",
		Short: "Delete one history entry.",
		Example: "seqtrack history delete analysis/0b7a3f52-4d0e-4a8b-9f0a-0c3d2b1e7f11\n" +
			"seqtrack history delete 0b7a3f52-4d0e-4a8b-9f0a-0c3d2b1e7f11 --local",
		Args: cobra.ExactArgs(1),
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
	o.GlobalOptions.Bind(cmd.Flags())
	cmd.Flags().BoolVar(&o.Local, "local", o.Local, "Delete from the local history")
	return cmd
}

func (o *HistoryDeleteOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.Local {
		if strings.Contains(args[0], "/") {
			return fmt.Errorf("local entries are deleted by ID only")
		}
		return nil
	}
	_, _, err := parseHistoryKindID(args[0])
	return err
}

func (o *HistoryDeleteOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	if o.Local {
		st, err := openStore(&o.GlobalOptions)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Job().Delete(ctx, args[0]); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("local job %s not found", args[0])
			}
			return fmt.Errorf("deleting local job %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "Deleted local job %s\n", args[0])
		return nil
	}

	typ, id, _ := parseHistoryKindID(args[0])
	if err := o.Backend().DeleteHistory(ctx, typ, id); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", typ, id, err)
	}
	fmt.Fprintf(out, "Deleted %s/%s\n", typ, id)
	return nil
}

type HistoryClearOptions struct {
	GlobalOptions

	Local bool
}

func NewCmdHistoryClear() *cobra.Command {
	o := &HistoryClearOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every history entry.",
		Args:  cobra.NoArgs,
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
	cmd.Flags().BoolVar(&o.Local, "local", o.Local, "Clear the local history")
	return cmd
}

func (o *HistoryClearOptions) Run(ctx context.Context, out io.Writer) error {
	if o.Local {
		st, err := openStore(&o.GlobalOptions)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.Job().DeleteAll(ctx)
		if err != nil {
			return fmt.Errorf("clearing local history: %w", err)
		}
		fmt.Fprintf(out, "Deleted %d local jobs\n", n)
		return nil
	}

	if err := o.Backend().ClearHistory(ctx); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	fmt.Fprintln(out, "History cleared")
	return nil
}
