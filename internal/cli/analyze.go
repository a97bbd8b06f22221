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

	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/render"
	"github.com/oceanomics/seqtrack/internal/service"
	"github.com/oceanomics/seqtrack/internal/stream"
)

var sequenceFileTypes = []string{".fastq", ".fasta"}

type AnalyzeOptions struct {
	GlobalOptions

	FileType      string
	StatusAddress string
	NoArchive     bool
	Output        string
}

func DefaultAnalyzeOptions() *AnalyzeOptions {
	return &AnalyzeOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdAnalyze() *cobra.Command {
	o := DefaultAnalyzeOptions()
	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Upload a sequence file and follow its analysis.",
		Example: "seqtrack analyze reads.fastq\n" +
			"seqtrack analyze reads.fa --type .fasta --status-address 127.0.0.1:3333",
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
	o.Bind(cmd.Flags())
	return cmd
}

func (o *AnalyzeOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.FileType, "type", "t", o.FileType, fmt.Sprintf("Type of the sequence file. One of: (%s). Guessed from the extension when empty.", strings.Join(sequenceFileTypes, ", ")))
	fs.StringVar(&o.StatusAddress, "status-address", o.StatusAddress, "Serve the local status API on this address while the job runs")
	fs.BoolVar(&o.NoArchive, "no-archive", o.NoArchive, "Do not keep the finished job in the local history")
	fs.StringVarP(&o.Output, "output", "o", o.Output, outputUsage())
}

func (o *AnalyzeOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.FileType == "" {
		o.FileType = guessFileType(args[0])
	}
	o.FileType = strings.ToLower(o.FileType)
	if o.FileType != "" && !strings.HasPrefix(o.FileType, ".") {
		o.FileType = "." + o.FileType
	}
	return nil
}

func (o *AnalyzeOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if !funk.ContainsString(sequenceFileTypes, o.FileType) {
		return fmt.Errorf("file type must be one of %s", strings.Join(sequenceFileTypes, ", "))
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", args[0])
	}
	return validateOutput(o.Output)
}

func (o *AnalyzeOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer f.Close()

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

	rec, sub, err := s.tracker.Submit(ctx, service.Upload{
		Filename: filepath.Base(args[0]),
		FileType: o.FileType,
		Content:  f,
	})
	if err != nil {
		if rec.FileID != "" {
			return describeWaitError(rec, err)
		}
		return err
	}

	final, waitErr := s.tracker.Wait(ctx, sub)
	// progress lines are flushed before the summary
	s.Close()
	if err := printRecord(out, o.Output, final); err != nil {
		return err
	}
	return describeWaitError(final, waitErr)
}

func printRecord(w io.Writer, output string, rec registry.Record) error {
	return printOutput(w, output, rec, func(w io.Writer) error {
		fmt.Fprintln(w)
		return render.Record(w, rec)
	})
}

func isTable(output string) bool {
	return output == "" || output == render.TableFormat
}

func guessFileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fa", ".fasta", ".fna":
		return ".fasta"
	case ".fq", ".fastq":
		return ".fastq"
	}
	return ""
}

// attachError keeps the disconnected hint for a job known to the registry.
func attachError(reg *registry.Registry, fileID string, err error) error {
	if errors.Is(err, stream.ErrDisconnected) {
		rec, getErr := reg.Get(fileID)
		if getErr == nil {
			return describeWaitError(rec, err)
		}
	}
	return err
}
