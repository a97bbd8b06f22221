package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/oceanomics/seqtrack/internal/client"
)

const collectionDateLayout = "2006-01-02"

type TrainOptions struct {
	GlobalOptions

	Depth          string
	Latitude       string
	Longitude      string
	CollectionDate string
	Voyage         string
	Output         string
}

func DefaultTrainOptions() *TrainOptions {
	return &TrainOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdTrain() *cobra.Command {
	o := DefaultTrainOptions()
	cmd := &cobra.Command{
		Use:     "train FILE",
		Short:   "Upload a labelled reference file to train the classifier.",
		Example: "seqtrack train reference.csv --depth 200 --latitude -42.5 --longitude 147.3 --collection-date 2024-03-01 --voyage IN2024_V01",
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
	o.Bind(cmd.Flags())
	return cmd
}

func (o *TrainOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.Depth, "depth", o.Depth, "Collection depth in meters")
	fs.StringVar(&o.Latitude, "latitude", o.Latitude, "Collection latitude in decimal degrees")
	fs.StringVar(&o.Longitude, "longitude", o.Longitude, "Collection longitude in decimal degrees")
	fs.StringVar(&o.CollectionDate, "collection-date", o.CollectionDate, "Collection date (YYYY-MM-DD)")
	fs.StringVar(&o.Voyage, "voyage", o.Voyage, "Voyage identifier")
	fs.StringVarP(&o.Output, "output", "o", o.Output, outputUsage())
}

// Validate checks the metadata that is set. The backend stores empty values
// as unknown.
func (o *TrainOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	var errs []error
	if o.Depth != "" {
		if d, err := strconv.ParseFloat(o.Depth, 64); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("depth must be a non-negative number, got %q", o.Depth))
		}
	}
	if err := validateCoordinate("latitude", o.Latitude, 90); err != nil {
		errs = append(errs, err)
	}
	if err := validateCoordinate("longitude", o.Longitude, 180); err != nil {
		errs = append(errs, err)
	}
	if o.CollectionDate != "" {
		if _, err := time.Parse(collectionDateLayout, o.CollectionDate); err != nil {
			errs = append(errs, fmt.Errorf("collection date must be YYYY-MM-DD, got %q", o.CollectionDate))
		}
	}
	if err := validateOutput(o.Output); err != nil {
		errs = append(errs, err)
	}
	if _, err := os.Stat(args[0]); err != nil {
		errs = append(errs, fmt.Errorf("reading %s: %w", args[0], err))
	}
	return utilerrors.NewAggregate(errs)
}

func validateCoordinate(name, value string, limit float64) error {
	if value == "" {
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < -limit || v > limit {
		return fmt.Errorf("%s must be a number between -%.0f and %.0f, got %q", name, limit, limit, value)
	}
	return nil
}

func (o *TrainOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer f.Close()

	resp, err := o.Backend().Train(ctx, filepath.Base(args[0]), f, client.TrainingMetadata{
		Depth:          o.Depth,
		Latitude:       o.Latitude,
		Longitude:      o.Longitude,
		CollectionDate: o.CollectionDate,
		Voyage:         o.Voyage,
	})
	if err != nil {
		return fmt.Errorf("training with %s: %w", args[0], err)
	}

	return printOutput(out, o.Output, resp, func(w io.Writer) error {
		fmt.Fprintf(w, "%s\n", resp.Message)
		fmt.Fprintf(w, "Rows:          %d\n", resp.NumRows)
		fmt.Fprintf(w, "Sequences:     %d\n", resp.NumSequences)
		fmt.Fprintf(w, "Training time: %.2fs\n", resp.TrainingTime)
		fmt.Fprintf(w, "Model trained: %t\n", resp.ModelTrained)
		return nil
	})
}
