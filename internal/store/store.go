package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Close() error
}

type DataStore struct {
	db  *gorm.DB
	job Job
	log logrus.FieldLogger
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:  db,
		job: NewJobStore(db),
		log: logrus.WithField("pkg", "store"),
	}
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
