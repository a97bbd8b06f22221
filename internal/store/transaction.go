package store

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrTxDone = errors.New("transaction already finished")

type txKey struct{}

var txSeq atomic.Int64

// txn is the transaction a context carries. Job operations given that
// context run inside it.
type txn struct {
	seq  int64
	db   *gorm.DB
	done bool
	log  logrus.FieldLogger
}

// NewTransactionContext begins a transaction and returns a context carrying
// it. A context that already carries an open transaction is returned as is,
// so nested callers join the outer transaction.
func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	if t, ok := ctx.Value(txKey{}).(*txn); ok && !t.done {
		return ctx, nil
	}

	db := s.db.Session(&gorm.Session{Context: ctx}).Begin()
	if db.Error != nil {
		return ctx, db.Error
	}
	t := &txn{seq: txSeq.Add(1), db: db, log: s.log}
	t.log.Debugf("transaction %d started", t.seq)
	return context.WithValue(ctx, txKey{}, t), nil
}

// WithTransaction runs fn inside one transaction, committed when fn returns
// nil and rolled back otherwise. When ctx already carries a transaction fn
// joins it and the outer caller decides.
func WithTransaction(ctx context.Context, s Store, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	txCtx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		if rbErr := Rollback(txCtx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return Commit(txCtx)
}

// Commit ends the transaction carried by ctx. It is a no-op without one.
func Commit(ctx context.Context) error {
	t, ok := ctx.Value(txKey{}).(*txn)
	if !ok {
		return nil
	}
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.db.Commit().Error; err != nil {
		t.log.Errorf("failed to commit transaction %d: %v", t.seq, err)
		return err
	}
	t.log.Debugf("transaction %d committed", t.seq)
	return nil
}

// Rollback discards the transaction carried by ctx. It is a no-op without one.
func Rollback(ctx context.Context) error {
	t, ok := ctx.Value(txKey{}).(*txn)
	if !ok {
		return nil
	}
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.db.Rollback().Error; err != nil {
		t.log.Errorf("failed to roll back transaction %d: %v", t.seq, err)
		return err
	}
	t.log.Debugf("transaction %d rolled back", t.seq)
	return nil
}

func txFromContext(ctx context.Context) *gorm.DB {
	if t, ok := ctx.Value(txKey{}).(*txn); ok && !t.done {
		return t.db
	}
	return nil
}
