package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
}

// Marker is the one-column symbol of a step status.
func Marker(s pipeline.StepStatus) string {
	switch s {
	case pipeline.StepActive:
		return "[>]"
	case pipeline.StepComplete:
		return "[x]"
	case pipeline.StepError:
		return "[!]"
	default:
		return "[ ]"
	}
}

// Record prints a job header followed by its pipeline or its raw result.
func Record(w io.Writer, rec registry.Record) error {
	fmt.Fprintf(w, "Job:    %s\n", rec.FileID)
	if rec.SampleID != "" {
		fmt.Fprintf(w, "Sample: %s\n", rec.SampleID)
	}
	if rec.Filename != "" {
		fmt.Fprintf(w, "File:   %s\n", rec.Filename)
	}
	fmt.Fprintf(w, "Status: %s\n\n", rec.Status)

	if rec.View.Mode == pipeline.ViewRaw {
		return Raw(w, rec.View.Raw)
	}
	if err := Steps(w, rec.View); err != nil {
		return err
	}
	if rec.View.Failure != "" {
		fmt.Fprintf(w, "\nError: %s\n", rec.View.Failure)
	}
	if len(rec.View.Verifications) > 0 {
		fmt.Fprintln(w)
		return Verifications(w, rec.View)
	}
	return nil
}

// Steps prints the six pipeline steps, with the clustering summary under
// its step once known.
func Steps(w io.Writer, view pipeline.View) error {
	tw := newTabWriter(w)
	for _, s := range view.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", Marker(s.Status), s.Label, s.Status)
		if s.ResultData != nil {
			printClustering(tw, s.ResultData)
		}
	}
	return tw.Flush()
}

func printClustering(w io.Writer, r *pipeline.ClusteringResult) {
	fmt.Fprintf(w, "\t  reads: %d, clusters: %d, noise: %d (%.1f%%)\t\n", r.TotalReads, r.TotalClusters, r.NoiseCount, r.NoisePercentage)
	for _, g := range r.TopGroups {
		name := g.Genus
		if name == "" {
			name = g.Class
		}
		if name == "" {
			name = "unassigned"
		}
		fmt.Fprintf(w, "\t  #%d %s: %d (%.1f%%)\t\n", g.GroupID, name, g.Count, g.Percentage)
	}
}

// Verifications prints the latest verification of every cluster.
func Verifications(w io.Writer, view pipeline.View) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "CLUSTER\tSTATUS\tMATCH\tDESCRIPTION")
	for _, v := range view.Verifications {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\n", v.ClusterID, v.Status, v.MatchPercentage, v.Description)
	}
	return tw.Flush()
}

// Raw pretty prints a verbatim result object.
func Raw(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "{}")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("invalid result payload: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
