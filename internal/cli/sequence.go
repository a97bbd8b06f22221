package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type SequenceOptions struct {
	GlobalOptions

	File      string
	NoArchive bool
	Output    string
}

func DefaultSequenceOptions() *SequenceOptions {
	return &SequenceOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdSequence() *cobra.Command {
	o := DefaultSequenceOptions()
	cmd := &cobra.Command{
		Use:   "sequence [SEQUENCE]",
		Short: "Classify a single sequence.",
		Example: "seqtrack sequence ACGTTGCA\n" +
			"seqtrack sequence --file read.txt -o json",
		Args: cobra.MaximumNArgs(1),
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

func (o *SequenceOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.File, "file", "f", o.File, "Read the sequence from a file")
	fs.BoolVar(&o.NoArchive, "no-archive", o.NoArchive, "Do not keep the answer in the local history")
	fs.StringVarP(&o.Output, "output", "o", o.Output, outputUsage())
}

func (o *SequenceOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	switch {
	case len(args) == 0 && o.File == "":
		return fmt.Errorf("a sequence or --file is required")
	case len(args) == 1 && o.File != "":
		return fmt.Errorf("a sequence and --file are mutually exclusive")
	}
	return validateOutput(o.Output)
}

func (o *SequenceOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	sequence, err := o.sequence(args)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, &o.GlobalOptions, sessionOptions{archive: !o.NoArchive})
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.tracker.SubmitSequence(ctx, sequence)
	if err != nil {
		return err
	}
	return printRecord(out, o.Output, rec)
}

func (o *SequenceOptions) sequence(args []string) (string, error) {
	raw := ""
	if len(args) == 1 {
		raw = args[0]
	} else {
		data, err := os.ReadFile(o.File)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", o.File, err)
		}
		raw = string(data)
	}
	sequence := strings.Join(strings.Fields(raw), "")
	if sequence == "" {
		return "", fmt.Errorf("sequence is empty")
	}
	return sequence, nil
}
