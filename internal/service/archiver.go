package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/store"
	"github.com/oceanomics/seqtrack/internal/store/model"
	"github.com/oceanomics/seqtrack/pkg/metrics"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

const archiveTimeout = 10 * time.Second

// Archiver persists a summary of every job that reaches a terminal status.
// Registry listeners run under the job's lock, so records are queued and
// written by a single background goroutine.
type Archiver struct {
	store store.Store

	mu       sync.Mutex
	queue    []registry.Record
	finished map[string]bool
	wakeCh   chan struct{}
	doneCh   chan struct{}
	stopped  chan struct{}
	unsub    func()
	log      *zap.SugaredLogger
}

func NewArchiver(s store.Store) *Archiver {
	return &Archiver{
		store:    s,
		finished: make(map[string]bool),
		wakeCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      zap.S().Named("archiver"),
	}
}

// Start subscribes to reg and starts writing.
func (a *Archiver) Start(reg *registry.Registry) {
	a.unsub = reg.Subscribe(a.observe)
	go a.run()
}

// Close stops listening, writes what is queued and returns.
func (a *Archiver) Close() {
	if a.unsub != nil {
		a.unsub()
	}
	close(a.doneCh)
	<-a.stopped
}

func (a *Archiver) observe(u registry.Update) {
	if u.Type == registry.UpdateDeleted || !u.Record.Status.IsTerminal() {
		return
	}

	a.mu.Lock()
	first := !a.finished[u.Record.FileID]
	a.finished[u.Record.FileID] = true
	a.queue = append(a.queue, u.Record)
	a.mu.Unlock()

	if first {
		metrics.IncreaseJobsFinishedMetric(string(u.Record.Status))
	}
	select {
	case a.wakeCh <- struct{}{}:
	default:
	}
}

func (a *Archiver) run() {
	defer close(a.stopped)
	defer utilruntime.HandleCrash()

	for {
		select {
		case <-a.doneCh:
			a.flush()
			return
		case <-a.wakeCh:
			a.flush()
		}
	}
}

// flush writes the queued records in one transaction. A failed batch is
// rolled back whole and dropped.
func (a *Archiver) flush() {
	a.mu.Lock()
	pending := a.queue
	a.queue = nil
	a.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	err := store.WithTransaction(ctx, a.store, func(ctx context.Context) error {
		for _, rec := range pending {
			if _, err := a.store.Job().Save(ctx, model.NewJobFromRecord(rec)); err != nil {
				return fmt.Errorf("archiving job %s: %w", rec.FileID, err)
			}
		}
		return nil
	})
	if err != nil {
		a.log.Errorw("failed to archive jobs", "file_ids", fileIDs(pending), "error", err)
		return
	}
	a.log.Debugw("jobs archived", "file_ids", fileIDs(pending))
}

func fileIDs(recs []registry.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.FileID)
	}
	return ids
}
