package store

import (
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *JobQueryFilter) ByStatus(statuses ...string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	return qf
}

func (qf *JobQueryFilter) BySampleID(sampleID string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("sample_id = ?", sampleID)
	})
	return qf
}

func (qf *JobQueryFilter) ByKind(kind string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("kind = ?", kind)
	})
	return qf
}

func (qf *JobQueryFilter) WithLimit(limit int) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	})
	return qf
}
