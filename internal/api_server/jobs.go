package apiserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/service"
)

type jobHandler struct {
	registry *registry.Registry
	checker  *service.HealthChecker
}

type HealthReply struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}

// JobSummary is one entry of the job list.
type JobSummary struct {
	FileID     string              `json:"file_id"`
	SampleID   string              `json:"sample_id,omitempty"`
	Filename   string              `json:"filename,omitempty"`
	Status     registry.Status     `json:"status"`
	Mode       pipeline.ViewMode   `json:"mode"`
	ActiveStep pipeline.StepID     `json:"active_step,omitempty"`
	StepStatus pipeline.StepStatus `json:"step_status,omitempty"`
	EventCount int                 `json:"event_count"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type JobListReply struct {
	Jobs []JobSummary `json:"jobs"`
}

type JobReply struct {
	registry.Record
	EventCount int `json:"event_count"`
}

type EventListReply struct {
	FileID string           `json:"file_id"`
	Total  int              `json:"total"`
	Events []pipeline.Event `json:"events"`
}

type ErrReply struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (HealthReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (JobListReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (JobReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (EventListReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (e ErrReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func newSummary(rec registry.Record) JobSummary {
	s := JobSummary{
		FileID:     rec.FileID,
		SampleID:   rec.SampleID,
		Filename:   rec.Filename,
		Status:     rec.Status,
		Mode:       rec.View.Mode,
		EventCount: rec.EventCount(),
		UpdatedAt:  rec.UpdatedAt,
	}
	if step, ok := rec.View.ActiveStep(); ok {
		s.ActiveStep = step.ID
		s.StepStatus = step.Status
	} else {
		for _, step := range rec.View.Steps {
			if step.Status == pipeline.StepError {
				s.ActiveStep = step.ID
				s.StepStatus = step.Status
			}
		}
	}
	return s
}

func (h *jobHandler) health(w http.ResponseWriter, r *http.Request) {
	reply := HealthReply{Status: "ok"}
	if h.checker != nil {
		reply.Backend = h.checker.State().String()
	}
	_ = render.Render(w, r, reply)
}

// list answers the jobs, oldest first. ?status= keeps the jobs in that status.
func (h *jobHandler) list(w http.ResponseWriter, r *http.Request) {
	status := registry.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		_ = render.Render(w, r, ErrReply{StatusCode: http.StatusBadRequest, Message: "unknown status " + string(status)})
		return
	}

	reply := JobListReply{Jobs: []JobSummary{}}
	for _, rec := range h.registry.List() {
		if status != "" && rec.Status != status {
			continue
		}
		reply.Jobs = append(reply.Jobs, newSummary(rec))
	}
	_ = render.Render(w, r, reply)
}

func (h *jobHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	_ = render.Render(w, r, JobReply{Record: rec, EventCount: rec.EventCount()})
}

// events answers the job's event log. ?since=N skips the first N events.
func (h *jobHandler) events(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			_ = render.Render(w, r, ErrReply{StatusCode: http.StatusBadRequest, Message: "since must be a non-negative integer"})
			return
		}
		since = min(n, len(rec.EventLog))
	}

	events := rec.EventLog[since:]
	if events == nil {
		events = []pipeline.Event{}
	}
	_ = render.Render(w, r, EventListReply{FileID: rec.FileID, Total: rec.EventCount(), Events: events})
}

// delete forgets a finished job. Jobs still in progress are kept.
func (h *jobHandler) delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !rec.Status.IsTerminal() {
		_ = render.Render(w, r, ErrReply{StatusCode: http.StatusConflict, Message: "job " + rec.FileID + " is still " + string(rec.Status)})
		return
	}
	if err := h.registry.Delete(rec.FileID); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, registry.ErrRecordNotFound) {
			code = http.StatusNotFound
		}
		_ = render.Render(w, r, ErrReply{StatusCode: code, Message: err.Error()})
		return
	}
	render.NoContent(w, r)
}

func (h *jobHandler) lookup(w http.ResponseWriter, r *http.Request) (registry.Record, bool) {
	id := chi.URLParam(r, "id")
	rec, err := h.registry.Get(id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, registry.ErrRecordNotFound) {
			code = http.StatusNotFound
		}
		_ = render.Render(w, r, ErrReply{StatusCode: code, Message: err.Error()})
		return registry.Record{}, false
	}
	return rec, true
}
