package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the records delivered on the progress stream.
type Kind string

const (
	KindLog                Kind = "log"
	KindProgress           Kind = "progress"
	KindClusteringResult   Kind = "clustering_result"
	KindVerificationUpdate Kind = "verification_update"
	KindComplete           Kind = "complete"
	KindError              Kind = "error"
	KindJSONResult         Kind = "json_result"
)

// Kinds lists every kind accepted at the parse boundary.
var Kinds = []Kind{
	KindLog,
	KindProgress,
	KindClusteringResult,
	KindVerificationUpdate,
	KindComplete,
	KindError,
	KindJSONResult,
}

// IsTerminal reports whether a record of this kind ends the job.
func (k Kind) IsTerminal() bool {
	return k == KindComplete || k == KindError
}

// Event is one parsed stream record. Only the payload matching Kind is set:
// Message for log, complete and error; Progress for progress; Clustering for
// clustering_result; Verification for verification_update; Raw for json_result.
type Event struct {
	ID           string
	Kind         Kind
	Message      string
	Progress     *ProgressUpdate
	Clustering   *ClusteringResult
	Verification *VerificationUpdate
	Raw          json.RawMessage
}

type ProgressUpdate struct {
	Step   StepID     `json:"step" validate:"required,oneof=read_sequences generate_embeddings umap_hdbscan clustering_result ncbi_verification analysis_complete"`
	Status StepStatus `json:"status" validate:"required,oneof=pending active complete error"`
}

type ClusteringResult struct {
	TotalReads      int        `json:"total_reads" validate:"gte=0"`
	TotalClusters   int        `json:"total_clusters" validate:"gte=0"`
	NoiseCount      int        `json:"noise_count" validate:"gte=0"`
	NoisePercentage float64    `json:"noise_percentage" validate:"gte=0,lte=100"`
	TopGroups       []TopGroup `json:"top_groups" validate:"dive"`
}

type TopGroup struct {
	GroupID    int     `json:"group_id" validate:"gte=0"`
	Genus      string  `json:"genus,omitempty"`
	Class      string  `json:"class,omitempty"`
	Count      int     `json:"count" validate:"gte=0"`
	Percentage float64 `json:"percentage" validate:"gte=0,lte=100"`
}

type VerificationUpdate struct {
	Step            string    `json:"step,omitempty"`
	ClusterID       ClusterID `json:"cluster_id" validate:"required"`
	MatchPercentage float64   `json:"match_percentage" validate:"gte=0,lte=100"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status" validate:"required"`
}

// ClusterID identifies a verified cluster. The backend sends either a bare
// number or a string, both are kept in their textual form.
type ClusterID string

func (c *ClusterID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ClusterID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cluster_id must be a string or a number: %w", err)
	}
	*c = ClusterID(n.String())
	return nil
}

// less orders numeric ids numerically and everything else lexically.
func (c ClusterID) less(o ClusterID) bool {
	a, aErr := strconv.ParseFloat(string(c), 64)
	b, bErr := strconv.ParseFloat(string(o), 64)
	switch {
	case aErr == nil && bErr == nil && a != b:
		return a < b
	case aErr == nil && bErr == nil:
		return c < o
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return c < o
	}
}

func NewLogEvent(message string) Event {
	return Event{Kind: KindLog, Message: message}
}

func NewProgressEvent(step StepID, status StepStatus) Event {
	return Event{Kind: KindProgress, Progress: &ProgressUpdate{Step: step, Status: status}}
}

func NewClusteringEvent(result ClusteringResult) Event {
	return Event{Kind: KindClusteringResult, Clustering: &result}
}

func NewVerificationEvent(update VerificationUpdate) Event {
	return Event{Kind: KindVerificationUpdate, Verification: &update}
}

func NewCompleteEvent(message string) Event {
	return Event{Kind: KindComplete, Message: message}
}

func NewErrorEvent(message string) Event {
	return Event{Kind: KindError, Message: message}
}

func NewJSONResultEvent(raw json.RawMessage) Event {
	return Event{Kind: KindJSONResult, Raw: raw}
}

// Equal reports whether two events carry the same kind and payload.
func (e Event) Equal(o Event) bool {
	if e.ID != o.ID || e.Kind != o.Kind || e.Message != o.Message {
		return false
	}
	a, errA := e.MarshalJSON()
	b, errB := o.MarshalJSON()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// wireRecord is the JSON shape of a stream record.
type wireRecord struct {
	ID      string          `json:"id,omitempty"`
	Type    Kind            `json:"type"`
	Message string          `json:"message,omitempty"`
	Step    StepID          `json:"step,omitempty"`
	Status  StepStatus      `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON writes the event back in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	rec := wireRecord{ID: e.ID, Type: e.Kind, Message: e.Message}
	var err error
	switch e.Kind {
	case KindProgress:
		if e.Progress != nil {
			rec.Step = e.Progress.Step
			rec.Status = e.Progress.Status
		}
	case KindClusteringResult:
		if e.Clustering != nil {
			rec.Data, err = json.Marshal(e.Clustering)
		}
	case KindVerificationUpdate:
		if e.Verification != nil {
			rec.Data, err = json.Marshal(e.Verification)
		}
	case KindJSONResult:
		rec.Data = e.Raw
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
