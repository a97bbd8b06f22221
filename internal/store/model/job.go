package model

import (
	"encoding/json"
	"time"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
)

const (
	JobKindAnalysis = "analysis"
	JobKindSequence = "sequence"
)

// Job is the archived summary of a finished job.
type Job struct {
	FileID        string                                    `gorm:"primaryKey;column:file_id;type:VARCHAR(255);" json:"file_id"`
	SampleID      string                                    `gorm:"type:VARCHAR(255);index:jobs_sample_id_idx" json:"sample_id,omitempty"`
	Filename      string                                    `gorm:"type:TEXT" json:"filename,omitempty"`
	FileType      string                                    `gorm:"type:VARCHAR(32)" json:"file_type,omitempty"`
	Kind          string                                    `gorm:"not null;type:VARCHAR(32)" json:"kind"`
	Status        string                                    `gorm:"not null;type:VARCHAR(32);index:jobs_status_idx" json:"status"`
	Failure       string                                    `gorm:"type:TEXT" json:"failure,omitempty"`
	EventCount    int                                       `gorm:"not null;default:0" json:"event_count"`
	Steps         *JSONField[[]pipeline.Step]               `gorm:"type:TEXT" json:"steps,omitempty"`
	Verifications *JSONField[[]pipeline.VerificationUpdate] `gorm:"type:TEXT" json:"verifications,omitempty"`
	Result        *JSONField[registry.Result]               `gorm:"type:TEXT" json:"result,omitempty"`
	StartedAt     time.Time                                 `gorm:"not null" json:"started_at"`
	FinishedAt    time.Time                                 `gorm:"not null" json:"finished_at"`
	CreatedAt     time.Time                                 `gorm:"not null" json:"created_at"`
}

type JobList []Job

func (Job) TableName() string {
	return "jobs"
}

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// NewJobFromRecord summarizes a registry record for archiving.
func NewJobFromRecord(rec registry.Record) Job {
	kind := JobKindAnalysis
	if rec.View.Mode == pipeline.ViewRaw {
		kind = JobKindSequence
	}
	job := Job{
		FileID:     rec.FileID,
		SampleID:   rec.SampleID,
		Filename:   rec.Filename,
		FileType:   rec.FileType,
		Kind:       kind,
		Status:     string(rec.Status),
		Failure:    rec.View.Failure,
		EventCount: rec.EventCount(),
		StartedAt:  rec.CreatedAt,
		FinishedAt: rec.UpdatedAt,
	}
	if len(rec.View.Steps) > 0 {
		job.Steps = MakeJSONField(rec.View.Steps)
	}
	if len(rec.View.Verifications) > 0 {
		job.Verifications = MakeJSONField(rec.View.Verifications)
	}
	if rec.LatestResult != nil {
		job.Result = MakeJSONField(*rec.LatestResult)
	}
	return job
}

// Clustering returns the archived clustering summary, if any.
func (j Job) Clustering() *pipeline.ClusteringResult {
	if j.Result == nil {
		return nil
	}
	return j.Result.Data.Clustering
}
