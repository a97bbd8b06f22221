package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oceanomics/seqtrack/internal/pipeline"
)

type UpdateType string

const (
	UpdateCreated       UpdateType = "created"
	UpdateAppended      UpdateType = "appended"
	UpdateStatusChanged UpdateType = "status_changed"
	UpdateResultSet     UpdateType = "result_set"
	UpdateDeleted       UpdateType = "deleted"
)

// Update is delivered to subscribers after every successful mutation.
// Event is set for UpdateAppended only.
type Update struct {
	Type   UpdateType
	Record Record
	Event  *pipeline.Event
}

// Listener receives updates. Updates of one job are delivered in mutation
// order, from the goroutine that performed the mutation, while that job's
// mutations are held. A listener must not mutate the same job.
type Listener func(Update)

type entry struct {
	mu      sync.Mutex
	rec     atomic.Pointer[Record]
	deleted bool
}

// Registry owns every job record of the process. Mutations of one job are
// serialized, records are replaced wholesale and reads never block on a
// mutation in progress.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	deleted map[string]struct{}

	subMu     sync.RWMutex
	listeners map[uint64]Listener
	nextSub   uint64

	now func() time.Time
	log *zap.SugaredLogger
}

type Option func(*Registry)

// WithClock replaces the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		deleted:   make(map[string]struct{}),
		listeners: make(map[uint64]Listener),
		now:       time.Now,
		log:       zap.S().Named("registry"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create adds a job in the uploading state. It fails with ErrDuplicateKey if
// the id is already known, leaving the existing record untouched, and with
// ErrJobDeleted if the id was deleted earlier.
func (r *Registry) Create(fileID string, meta Metadata) (Record, error) {
	if strings.TrimSpace(fileID) == "" {
		return Record{}, ErrInvalidID
	}

	now := r.now()
	rec := &Record{
		FileID:    fileID,
		SampleID:  meta.SampleID,
		Filename:  meta.Filename,
		FileType:  meta.FileType,
		Status:    StatusUploading,
		View:      pipeline.Derive(nil),
		CreatedAt: now,
		UpdatedAt: now,
	}

	e := &entry{}
	e.rec.Store(rec)
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	if _, ok := r.entries[fileID]; ok {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("job %s: %w", fileID, ErrDuplicateKey)
	}
	if _, ok := r.deleted[fileID]; ok {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("job %s: %w", fileID, ErrJobDeleted)
	}
	r.entries[fileID] = e
	r.mu.Unlock()

	r.log.Debugw("job created", "file_id", fileID, "sample_id", meta.SampleID)
	out := rec.clone()
	r.publish(Update{Type: UpdateCreated, Record: out})
	return out, nil
}

// Append adds ev to the job's event log and publishes the recomputed record.
// Events are rejected once the job is terminal, and events that would mix
// raw and pipeline view modes are rejected with ErrViewModeConflict.
func (r *Registry) Append(fileID string, ev pipeline.Event) (Record, error) {
	var appended Record
	err := r.mutate(fileID, func(cur *Record) (*Record, error) {
		if cur.Status.IsTerminal() || cur.View.Terminal {
			return nil, fmt.Errorf("job %s: %w", fileID, ErrJobTerminated)
		}
		if err := checkViewMode(cur, ev); err != nil {
			return nil, fmt.Errorf("job %s: %w", fileID, err)
		}
		next := cur.withEvent(ev, r.now())
		appended = next
		return &next, nil
	}, func(rec Record) Update {
		return Update{Type: UpdateAppended, Record: rec, Event: &ev}
	})
	if err != nil {
		return Record{}, err
	}
	if appended.Status.IsTerminal() {
		r.log.Infow("job finished", "file_id", fileID, "status", appended.Status, "events", appended.EventCount())
	}
	return appended.clone(), nil
}

func checkViewMode(cur *Record, ev pipeline.Event) error {
	if len(cur.EventLog) == 0 {
		return nil
	}
	if ev.Kind == pipeline.KindJSONResult {
		return ErrViewModeConflict
	}
	if cur.View.Mode == pipeline.ViewRaw && !ev.Kind.IsTerminal() {
		return ErrViewModeConflict
	}
	return nil
}

// SetStatus moves the job forward. Setting the current status again is a
// no-op; moving backward, or between terminal states, is rejected.
func (r *Registry) SetStatus(fileID string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, fmt.Errorf("status %q: %w", status, ErrInvalidTransition)
	}
	var out Record
	err := r.mutate(fileID, func(cur *Record) (*Record, error) {
		if cur.Status == status {
			out = *cur
			return nil, nil
		}
		if status.rank() <= cur.Status.rank() {
			return nil, fmt.Errorf("job %s: %s -> %s: %w", fileID, cur.Status, status, ErrInvalidTransition)
		}
		next := *cur
		next.Status = status
		next.UpdatedAt = r.now()
		out = next
		return &next, nil
	}, func(rec Record) Update {
		return Update{Type: UpdateStatusChanged, Record: rec}
	})
	if err != nil {
		return Record{}, err
	}
	return out.clone(), nil
}

// SetResult records the job's finalized payload. A result is set at most once.
func (r *Registry) SetResult(fileID string, result Result) (Record, error) {
	var out Record
	err := r.mutate(fileID, func(cur *Record) (*Record, error) {
		if cur.LatestResult != nil {
			return nil, fmt.Errorf("job %s: %w", fileID, ErrResultAlreadySet)
		}
		next := *cur
		next.LatestResult = &result
		next.UpdatedAt = r.now()
		out = next
		return &next, nil
	}, func(rec Record) Update {
		return Update{Type: UpdateResultSet, Record: rec}
	})
	if err != nil {
		return Record{}, err
	}
	return out.clone(), nil
}

func (r *Registry) Get(fileID string) (Record, error) {
	e := r.lookup(fileID)
	if e == nil {
		return Record{}, fmt.Errorf("job %s: %w", fileID, ErrRecordNotFound)
	}
	return e.rec.Load().clone(), nil
}

// List returns every job, oldest first.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.rec.Load().clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Delete removes the job. Later mutations of the same id fail with
// ErrRecordNotFound and the id cannot be created again.
func (r *Registry) Delete(fileID string) error {
	r.mu.Lock()
	e, ok := r.entries[fileID]
	if ok {
		delete(r.entries, fileID)
		r.deleted[fileID] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", fileID, ErrRecordNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = true
	r.log.Debugw("job deleted", "file_id", fileID)
	r.publish(Update{Type: UpdateDeleted, Record: e.rec.Load().clone()})
	return nil
}

// Subscribe registers l for every later update and returns a function that
// removes it.
func (r *Registry) Subscribe(l Listener) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = l
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.listeners, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) lookup(fileID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[fileID]
}

// mutate runs fn with the job's mutations held. fn returns the replacement
// record, or nil when nothing changed.
func (r *Registry) mutate(fileID string, fn func(cur *Record) (*Record, error), update func(Record) Update) error {
	e := r.lookup(fileID)
	if e == nil {
		return fmt.Errorf("job %s: %w", fileID, ErrRecordNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("job %s: %w", fileID, ErrRecordNotFound)
	}

	next, err := fn(e.rec.Load())
	if err != nil || next == nil {
		return err
	}
	e.rec.Store(next)
	r.publish(update(next.clone()))
	return nil
}

func (r *Registry) publish(u Update) {
	r.subMu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	ids := make([]uint64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		listeners = append(listeners, r.listeners[id])
	}
	r.subMu.RUnlock()

	for _, l := range listeners {
		l(u)
	}
}
