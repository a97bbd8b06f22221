package render

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/store/model"
)

// History prints the backend's history table.
func History(w io.Writer, entries []client.HistoryEntry) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "TYPE\tID\tFILE\tSTATUS\tDETAILS\tCREATED")
	for _, e := range entries {
		created := e.CreatedAt
		if t, ok := e.Created(); ok {
			created = t.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Type, e.FileID, e.Filename, e.Status, historyDetails(e), created)
	}
	return tw.Flush()
}

func historyDetails(e client.HistoryEntry) string {
	switch e.Type {
	case client.HistoryTraining:
		s := "rows: " + optInt(e.NumRows)
		if e.Voyage != "" {
			s += ", voyage: " + e.Voyage
		}
		return s
	default:
		return fmt.Sprintf("reads: %s, clusters: %s", optInt(e.TotalReads), optInt(e.TotalClusters))
	}
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

// LocalHistory prints the jobs archived on this machine.
func LocalHistory(w io.Writer, jobs model.JobList) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tSAMPLE\tKIND\tSTATUS\tEVENTS\tCLUSTERS\tFINISHED")
	for _, j := range jobs {
		clusters := "-"
		if c := j.Clustering(); c != nil {
			clusters = strconv.Itoa(c.TotalClusters)
		}
		sample := j.SampleID
		if sample == "" {
			sample = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", j.FileID, sample, j.Kind, j.Status, j.EventCount, clusters, j.FinishedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

// ArchivedJob prints one job of the local history with its final steps.
func ArchivedJob(w io.Writer, j model.Job) error {
	fmt.Fprintf(w, "Job:      %s\n", j.FileID)
	if j.SampleID != "" {
		fmt.Fprintf(w, "Sample:   %s\n", j.SampleID)
	}
	if j.Filename != "" {
		fmt.Fprintf(w, "File:     %s\n", j.Filename)
	}
	fmt.Fprintf(w, "Status:   %s\n", j.Status)
	fmt.Fprintf(w, "Finished: %s\n\n", j.FinishedAt.UTC().Format(time.RFC3339))

	if j.Kind == model.JobKindSequence {
		if j.Result == nil {
			return Raw(w, nil)
		}
		return Raw(w, j.Result.Data.Raw)
	}

	var view pipeline.View
	if j.Steps != nil {
		view.Steps = j.Steps.Data
	}
	if j.Verifications != nil {
		view.Verifications = j.Verifications.Data
	}
	if err := Steps(w, view); err != nil {
		return err
	}
	if j.Failure != "" {
		fmt.Fprintf(w, "\nError: %s\n", j.Failure)
	}
	if len(view.Verifications) > 0 {
		fmt.Fprintln(w)
		return Verifications(w, view)
	}
	return nil
}
