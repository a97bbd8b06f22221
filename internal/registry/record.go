package registry

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/oceanomics/seqtrack/internal/pipeline"
)

type Status string

const (
	StatusUploading Status = "uploading"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

func (s Status) rank() int {
	switch s {
	case StatusUploading:
		return 0
	case StatusRunning:
		return 1
	case StatusComplete, StatusError:
		return 2
	default:
		return -1
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Metadata is what is known about a job when it is created.
type Metadata struct {
	SampleID string `json:"sample_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// Result is the finalized payload of a job: the clustering summary of a
// pipeline job or the verbatim object of a raw job.
type Result struct {
	Clustering *pipeline.ClusteringResult `json:"clustering,omitempty"`
	Raw        json.RawMessage            `json:"raw,omitempty"`
}

// Record is an immutable snapshot of a job. Registry mutations never change a
// Record handed out to a reader, they publish a new one.
type Record struct {
	FileID              string           `json:"file_id"`
	SampleID            string           `json:"sample_id,omitempty"`
	Filename            string           `json:"filename,omitempty"`
	FileType            string           `json:"file_type,omitempty"`
	Status              Status           `json:"status"`
	EventLog            []pipeline.Event `json:"-"`
	ProgressEntries     []pipeline.Event `json:"-"`
	VerificationEntries []pipeline.Event `json:"-"`
	View                pipeline.View    `json:"view"`
	LatestResult        *Result          `json:"latest_result,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// EventCount is the length of the event log.
func (r Record) EventCount() int {
	return len(r.EventLog)
}

// clone returns a shallow copy whose slices cannot be grown into the
// backing arrays shared with the registry.
func (r Record) clone() Record {
	r.EventLog = slices.Clip(r.EventLog)
	r.ProgressEntries = slices.Clip(r.ProgressEntries)
	r.VerificationEntries = slices.Clip(r.VerificationEntries)
	return r
}

// withEvent returns the record that results from appending ev.
func (r Record) withEvent(ev pipeline.Event, now time.Time) Record {
	next := r
	next.EventLog = append(r.EventLog, ev)
	switch ev.Kind {
	case pipeline.KindLog, pipeline.KindProgress:
		next.ProgressEntries = append(r.ProgressEntries, ev)
	case pipeline.KindVerificationUpdate:
		next.VerificationEntries = append(r.VerificationEntries, ev)
	}
	next.View = pipeline.Derive(next.EventLog)

	if next.Status == StatusUploading {
		next.Status = StatusRunning
	}
	switch ev.Kind {
	case pipeline.KindComplete:
		next.Status = StatusComplete
	case pipeline.KindError:
		next.Status = StatusError
	}

	if next.LatestResult == nil {
		next.LatestResult = resultOf(next.View, ev)
	}
	next.UpdatedAt = now
	return next
}

// resultOf extracts the finalized payload carried by a terminal or raw event.
func resultOf(view pipeline.View, ev pipeline.Event) *Result {
	switch {
	case ev.Kind == pipeline.KindJSONResult && view.Mode == pipeline.ViewRaw:
		return &Result{Raw: view.Raw}
	case ev.Kind == pipeline.KindComplete && view.Mode == pipeline.ViewPipeline:
		if s, ok := view.Step(pipeline.StepClusteringResult); ok && s.ResultData != nil {
			return &Result{Clustering: s.ResultData}
		}
	}
	return nil
}
