package store

import (
	"context"
	"errors"

	"github.com/oceanomics/seqtrack/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Job persists the summaries of finished jobs.
type Job interface {
	List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error)
	Get(ctx context.Context, fileID string) (*model.Job, error)
	Save(ctx context.Context, job model.Job) (*model.Job, error)
	Delete(ctx context.Context, fileID string) error
	DeleteAll(ctx context.Context) (int64, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (j *JobStore) List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error) {
	var jobs model.JobList
	tx := j.getDB(ctx).Model(&jobs).Order("finished_at DESC").Order("file_id")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (j *JobStore) Get(ctx context.Context, fileID string) (*model.Job, error) {
	var job model.Job
	result := j.getDB(ctx).First(&job, "file_id = ?", fileID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

// Save inserts the job or replaces the stored summary with the same file id.
func (j *JobStore) Save(ctx context.Context, job model.Job) (*model.Job, error) {
	result := j.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sample_id", "filename", "file_type", "kind", "status", "failure",
			"event_count", "steps", "verifications", "result", "started_at", "finished_at",
		}),
	}).Create(&job)
	if result.Error != nil {
		return nil, result.Error
	}
	return &job, nil
}

func (j *JobStore) Delete(ctx context.Context, fileID string) error {
	result := j.getDB(ctx).Where("file_id = ?", fileID).Delete(&model.Job{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (j *JobStore) DeleteAll(ctx context.Context) (int64, error) {
	result := j.getDB(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Job{})
	return result.RowsAffected, result.Error
}

func (j *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := txFromContext(ctx)
	if tx != nil {
		return tx
	}
	return j.db.WithContext(ctx)
}
