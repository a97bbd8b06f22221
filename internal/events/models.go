package events

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
)

// JobEvent is the payload of every job event: the job's state right after
// one registry mutation.
type JobEvent struct {
	FileID     string           `json:"file_id"`
	SampleID   string           `json:"sample_id,omitempty"`
	Status     registry.Status  `json:"status"`
	Change     string           `json:"change"`
	EventKind  pipeline.Kind    `json:"event_kind,omitempty"`
	Message    string           `json:"message,omitempty"`
	EventCount int              `json:"event_count"`
	View       pipeline.View    `json:"view"`
	Result     *registry.Result `json:"result,omitempty"`
}

func NewJobEvent(u registry.Update) JobEvent {
	ev := JobEvent{
		FileID:     u.Record.FileID,
		SampleID:   u.Record.SampleID,
		Status:     u.Record.Status,
		Change:     string(u.Type),
		EventCount: u.Record.EventCount(),
		View:       u.Record.View,
		Result:     u.Record.LatestResult,
	}
	if u.Event != nil {
		ev.EventKind = u.Event.Kind
		ev.Message = u.Event.Message
	}
	return ev
}

// kindOf maps a registry update to the cloudevent type it is published as.
func kindOf(u registry.Update) string {
	switch {
	case u.Type == registry.UpdateCreated:
		return JobCreatedKind
	case u.Type == registry.UpdateDeleted:
		return JobDeletedKind
	case u.Record.Status.IsTerminal() && (u.Type == registry.UpdateStatusChanged || (u.Event != nil && u.Event.Kind.IsTerminal())):
		return JobFinishedKind
	default:
		return JobUpdatedKind
	}
}

// Forward publishes every registry update through the producer and returns
// a function that stops forwarding.
func Forward(reg *registry.Registry, ep *EventProducer) func() {
	log := zap.S().Named("event_forwarder")
	return reg.Subscribe(func(u registry.Update) {
		data, err := json.Marshal(NewJobEvent(u))
		if err != nil {
			log.Errorw("failed to encode job event", "error", err, "file_id", u.Record.FileID)
			return
		}
		if err := ep.Write(context.TODO(), kindOf(u), u.Record.FileID, bytes.NewReader(data)); err != nil {
			log.Debugw("job event not queued", "error", err, "file_id", u.Record.FileID)
		}
	})
}
