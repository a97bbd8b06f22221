package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/store/model"
)

const (
	AnalysisSheet = "Analysis"
	TrainingSheet = "Training"
	LocalSheet    = "Local"
)

type sheet struct {
	name    string
	headers []string
	rows    [][]any
}

var (
	analysisHeaders = []string{"File ID", "Filename", "File Type", "Status", "Sequences", "Total Reads", "Total Clusters", "Created"}
	trainingHeaders = []string{"File ID", "Filename", "Rows", "Training Time (s)", "Depth", "Latitude", "Longitude", "Collection Date", "Voyage", "Created"}
	localHeaders    = []string{"File ID", "Sample ID", "Kind", "Status", "Failure", "Events", "Total Reads", "Total Clusters", "Started", "Finished"}
)

// WriteHistory writes the backend history, split by entry type, and the
// local archive as an xlsx workbook. Empty sheets keep their header row.
func WriteHistory(w io.Writer, entries []client.HistoryEntry, jobs model.JobList) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []sheet{
		{name: AnalysisSheet, headers: analysisHeaders},
		{name: TrainingSheet, headers: trainingHeaders},
		{name: LocalSheet, headers: localHeaders},
	}
	for _, e := range entries {
		switch e.Type {
		case client.HistoryTraining:
			sheets[1].rows = append(sheets[1].rows, trainingRow(e))
		default:
			sheets[0].rows = append(sheets[0].rows, analysisRow(e))
		}
	}
	for _, j := range jobs {
		sheets[2].rows = append(sheets[2].rows, localRow(j))
	}

	for i, s := range sheets {
		idx, err := f.NewSheet(s.name)
		if err != nil {
			return fmt.Errorf("creating sheet %s: %w", s.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := writeSheet(f, s); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}

func writeSheet(f *excelize.File, s sheet) error {
	header := make([]any, len(s.headers))
	for i, h := range s.headers {
		header[i] = h
	}
	if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
		return fmt.Errorf("writing %s header: %w", s.name, err)
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(s.name, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", s.name, i+1, err)
		}
	}
	return nil
}

func analysisRow(e client.HistoryEntry) []any {
	return []any{e.FileID, e.Filename, e.FileType, e.Status, optional(e.SequenceCount), optional(e.TotalReads), optional(e.TotalClusters), created(e)}
}

func trainingRow(e client.HistoryEntry) []any {
	var trainingTime any = ""
	if e.TrainingTime != nil {
		trainingTime = *e.TrainingTime
	}
	return []any{e.FileID, e.Filename, optional(e.NumRows), trainingTime, e.Depth, e.Latitude, e.Longitude, e.CollectionDate, e.Voyage, created(e)}
}

func localRow(j model.Job) []any {
	var reads, clusters any = "", ""
	if c := j.Clustering(); c != nil {
		reads, clusters = c.TotalReads, c.TotalClusters
	}
	return []any{j.FileID, j.SampleID, j.Kind, j.Status, j.Failure, j.EventCount, reads, clusters,
		j.StartedAt.UTC().Format(time.RFC3339), j.FinishedAt.UTC().Format(time.RFC3339)}
}

func optional(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func created(e client.HistoryEntry) string {
	if t, ok := e.Created(); ok {
		return t.Format(time.RFC3339)
	}
	return e.CreatedAt
}
