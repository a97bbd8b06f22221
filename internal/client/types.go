package client

import (
	"encoding/json"
	"time"
)

type UploadResponse struct {
	FileID   string `json:"file_id"`
	SampleID string `json:"sample_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TrainingMetadata describes where a reference sample was collected.
type TrainingMetadata struct {
	Depth          string `json:"depth"`
	Latitude       string `json:"latitude"`
	Longitude      string `json:"longitude"`
	CollectionDate string `json:"collectionDate"`
	Voyage         string `json:"voyage"`
	Filename       string `json:"filename,omitempty"`
}

type TrainingResponse struct {
	Message       string           `json:"message"`
	ModelTrained  bool             `json:"model_trained"`
	VectorsStored bool             `json:"vectors_stored"`
	NumSequences  int              `json:"num_sequences"`
	NumRows       int              `json:"num_rows"`
	TrainingTime  float64          `json:"training_time"`
	TopRows       []map[string]any `json:"top_rows,omitempty"`
	Metadata      TrainingMetadata `json:"metadata"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HistoryType string

const (
	HistoryTraining HistoryType = "training"
	HistoryAnalysis HistoryType = "analysis"
)

// HistoryEntry is one past job as reported by the backend. Training and
// analysis entries share the table and leave the other kind's fields empty.
type HistoryEntry struct {
	Type     HistoryType `json:"type"`
	FileID   string      `json:"file_id"`
	Filename string      `json:"filename"`
	FileType string      `json:"file_type,omitempty"`
	Status   string      `json:"status,omitempty"`

	NumRows        *int     `json:"num_rows,omitempty"`
	TrainingTime   *float64 `json:"training_time,omitempty"`
	Depth          string   `json:"depth,omitempty"`
	Latitude       string   `json:"latitude,omitempty"`
	Longitude      string   `json:"longitude,omitempty"`
	CollectionDate string   `json:"collection_date,omitempty"`
	Voyage         string   `json:"voyage,omitempty"`

	SequenceCount *int            `json:"sequence_count,omitempty"`
	TotalClusters *int            `json:"total_clusters,omitempty"`
	TotalReads    *int            `json:"total_reads,omitempty"`
	ResultData    json.RawMessage `json:"result_data,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
}

const historyTimeLayout = "2006-01-02 15:04:05"

// Created parses the backend's timestamp, which carries no zone and is UTC.
func (h HistoryEntry) Created() (time.Time, bool) {
	for _, layout := range []string{historyTimeLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, h.CreatedAt, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type HistoryResponse struct {
	History []HistoryEntry `json:"history"`
}

type messageResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
