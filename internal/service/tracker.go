package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/stream"
	"go.uber.org/zap"
)

// Backend is the part of the analysis backend the tracker drives.
type Backend interface {
	Upload(ctx context.Context, filename string, content io.Reader, fileType string) (*client.UploadResponse, error)
	AnalyzeSequence(ctx context.Context, sequence string) (json.RawMessage, error)
}

type Attacher interface {
	AttachWithRetry(ctx context.Context, fileID string, policy stream.RetryPolicy) (*stream.Subscription, error)
}

// Upload describes one sequence file to analyze.
type Upload struct {
	Filename string
	FileType string
	Content  io.Reader
}

// Tracker creates jobs from backend answers and keeps them attached to
// their progress stream.
type Tracker struct {
	backend  Backend
	registry *registry.Registry
	attacher Attacher
	health   *HealthChecker
	policy   stream.RetryPolicy
	log      *zap.SugaredLogger
}

type TrackerOption func(*Tracker)

// WithHealthChecker makes Submit refuse to upload while the backend does
// not answer its health check.
func WithHealthChecker(h *HealthChecker) TrackerOption {
	return func(t *Tracker) {
		t.health = h
	}
}

func WithRetryPolicy(p stream.RetryPolicy) TrackerOption {
	return func(t *Tracker) {
		t.policy = p
	}
}

func NewTracker(backend Backend, reg *registry.Registry, attacher Attacher, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		backend:  backend,
		registry: reg,
		attacher: attacher,
		policy:   stream.DefaultRetryPolicy,
		log:      zap.S().Named("tracker"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Submit uploads the file, creates its job and attaches to the job's stream.
// The returned record is the job as created. A transport failure while
// attaching leaves the job in place and is returned wrapping
// stream.ErrDisconnected.
func (t *Tracker) Submit(ctx context.Context, up Upload) (registry.Record, *stream.Subscription, error) {
	if t.health != nil {
		if err := t.health.Check(ctx); err != nil {
			return registry.Record{}, nil, err
		}
	}

	resp, err := t.backend.Upload(ctx, up.Filename, up.Content, up.FileType)
	if err != nil {
		return registry.Record{}, nil, fmt.Errorf("failed to upload %s: %w", up.Filename, err)
	}
	// the caller gave up while the upload was in flight
	if ctx.Err() != nil {
		t.log.Infow("discarding upload response", "file_id", resp.FileID, "filename", up.Filename)
		return registry.Record{}, nil, NewErrStaleResponse(resp.FileID, ctx.Err())
	}

	rec, err := t.registry.Create(resp.FileID, registry.Metadata{
		SampleID: resp.SampleID,
		Filename: up.Filename,
		FileType: up.FileType,
	})
	if errors.Is(err, registry.ErrJobDeleted) {
		// the job was deleted while its upload was in flight
		t.log.Infow("discarding upload response", "file_id", resp.FileID, "filename", up.Filename)
		return registry.Record{}, nil, NewErrStaleResponse(resp.FileID, err)
	}
	if err != nil {
		return registry.Record{}, nil, fmt.Errorf("failed to create job: %w", err)
	}
	t.log.Infow("job created", "file_id", rec.FileID, "sample_id", rec.SampleID, "filename", rec.Filename)

	sub, err := t.attach(ctx, rec.FileID)
	return rec, sub, err
}

// Watch attaches to the stream of a job started elsewhere, creating its
// record when the job is not known yet.
func (t *Tracker) Watch(ctx context.Context, fileID string) (*stream.Subscription, error) {
	_, err := t.registry.Create(fileID, registry.Metadata{})
	if err != nil && !errors.Is(err, registry.ErrDuplicateKey) {
		return nil, err
	}
	return t.attach(ctx, fileID)
}

// SubmitSequence classifies a single sequence. The answer becomes a job
// whose only event is a json_result, completed at once.
func (t *Tracker) SubmitSequence(ctx context.Context, sequence string) (registry.Record, error) {
	raw, err := t.backend.AnalyzeSequence(ctx, sequence)
	if err != nil {
		return registry.Record{}, fmt.Errorf("failed to analyze sequence: %w", err)
	}
	fileID := "seq-" + uuid.NewString()
	if ctx.Err() != nil {
		return registry.Record{}, NewErrStaleResponse(fileID, ctx.Err())
	}

	if _, err := t.registry.Create(fileID, registry.Metadata{FileType: "sequence"}); err != nil {
		return registry.Record{}, err
	}
	if _, err := t.registry.Append(fileID, pipeline.NewJSONResultEvent(raw)); err != nil {
		t.fail(fileID, err)
		return registry.Record{}, err
	}
	return t.registry.SetStatus(fileID, registry.StatusComplete)
}

// Wait blocks until the subscription ends or ctx is done, and returns the
// job as it stands. Cancelling ctx detaches.
func (t *Tracker) Wait(ctx context.Context, sub *stream.Subscription) (registry.Record, error) {
	select {
	case <-sub.Done():
	case <-ctx.Done():
		sub.Detach()
	}
	rec, err := t.registry.Get(sub.FileID())
	if err != nil {
		return rec, err
	}
	if err := sub.Err(); err != nil {
		return rec, err
	}
	return rec, ctx.Err()
}

func (t *Tracker) attach(ctx context.Context, fileID string) (*stream.Subscription, error) {
	sub, err := t.attacher.AttachWithRetry(ctx, fileID, t.policy)
	if err == nil {
		return sub, nil
	}
	switch {
	case errors.Is(err, stream.ErrDisconnected), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the job may still be running on the backend
		return nil, err
	case errors.Is(err, registry.ErrJobTerminated), errors.Is(err, stream.ErrAlreadyAttached):
		return nil, err
	default:
		t.fail(fileID, err)
		return nil, err
	}
}

func (t *Tracker) fail(fileID string, cause error) {
	if _, err := t.registry.SetStatus(fileID, registry.StatusError); err != nil {
		t.log.Errorw("failed to mark job as failed", "file_id", fileID, "error", err, "cause", cause)
		return
	}
	t.log.Warnw("job failed", "file_id", fileID, "error", cause)
}
