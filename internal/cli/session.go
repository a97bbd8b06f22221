package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	apiserver "github.com/oceanomics/seqtrack/internal/api_server"
	"github.com/oceanomics/seqtrack/internal/events"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/render"
	"github.com/oceanomics/seqtrack/internal/service"
	"github.com/oceanomics/seqtrack/internal/store"
	"github.com/oceanomics/seqtrack/internal/stream"
	"github.com/oceanomics/seqtrack/pkg/migrations"
	"github.com/oceanomics/seqtrack/pkg/ratelimit"
)

const handshakeTimeout = 10 * time.Second

// session wires the components a tracking command runs with.
type session struct {
	registry  *registry.Registry
	connector *stream.Connector
	health    *service.HealthChecker
	tracker   *service.Tracker
	store     store.Store
	archiver  *service.Archiver
	producer  *events.EventProducer

	stopForward func()
	stopHealth  chan chan any
	cancel      context.CancelFunc
	serverDone  chan error
	closeOnce   sync.Once
}

type sessionOptions struct {
	// progress receives live job events when set
	progress io.Writer
	// eventsOut receives every job event as a json cloudevent when set
	eventsOut io.Writer
	// statusAddress starts the status API when set
	statusAddress string
	// archive persists finished jobs into the local history
	archive bool
	// checkHealth runs the backend health check periodically
	checkHealth bool
}

func newSession(ctx context.Context, o *GlobalOptions, so sessionOptions) (*session, error) {
	s := &session{registry: registry.New()}

	dialer, err := stream.NewWebsocketDialer(o.Server(), handshakeTimeout)
	if err != nil {
		return nil, err
	}
	s.connector = stream.NewConnector(dialer, s.registry)

	backend := o.Backend()
	s.health = service.NewHealthChecker(backend, o.Server(), o.HealthInterval())
	s.tracker = service.NewTracker(backend, s.registry, s.connector,
		service.WithHealthChecker(s.health),
		service.WithRetryPolicy(o.RetryPolicy()),
	)

	if so.archive {
		st, err := openStore(o)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.store = st
		s.archiver = service.NewArchiver(st)
		s.archiver.Start(s.registry)
	}

	writers := events.MultiWriter{&events.StdoutWriter{}}
	if so.progress != nil {
		writers = append(writers, render.NewProgressWriter(so.progress))
	}
	if so.eventsOut != nil {
		writers = append(writers, events.NewJSONWriter(so.eventsOut))
	}
	s.producer = events.NewEventProducer(writers)
	s.stopForward = events.Forward(s.registry, s.producer)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if so.checkHealth {
		s.stopHealth = make(chan chan any)
		s.health.Start(runCtx, s.stopHealth)
	}

	if so.statusAddress != "" {
		listener, err := net.Listen("tcp", so.statusAddress)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating listener: %w", err)
		}
		s.serverDone = make(chan error, 1)
		var opts []apiserver.RouterOption
		if svc := o.cfg.Service; svc.StatusRateLimit > 0 {
			opts = append(opts, apiserver.WithRateLimit(ratelimit.Config{RequestsPerSecond: svc.StatusRateLimit, Burst: svc.StatusBurst}))
		}
		srv := apiserver.New(s.registry, s.health, listener, opts...)
		go func() {
			s.serverDone <- srv.Run(runCtx)
		}()
	}

	return s, nil
}

// Close detaches every stream and flushes the producer and the archiver.
// Calling it again is a no-op.
func (s *session) Close() {
	s.closeOnce.Do(s.close)
}

func (s *session) close() {
	if s.connector != nil {
		s.connector.Close()
	}
	if s.stopForward != nil {
		s.stopForward()
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			zap.S().Named("cli").Warnw("failed to close event producer", "error", err)
		}
	}
	if s.stopHealth != nil {
		c := make(chan any, 1)
		select {
		case s.stopHealth <- c:
			<-c
		case <-time.After(time.Second):
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.serverDone != nil {
		if err := <-s.serverDone; err != nil {
			zap.S().Named("cli").Warnw("status server failed", "error", err)
		}
	}
	if s.archiver != nil {
		s.archiver.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// openStore opens the local history and brings its schema up to date.
func openStore(o *GlobalOptions) (store.Store, error) {
	db, err := store.InitDB(o.cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing local history: %w", err)
	}
	if err := migrations.MigrateStore(db, o.cfg.Database.Type); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("migrating local history: %w", err)
	}
	return store.NewStore(db), nil
}

// describeWaitError turns the outcome of a followed job into the error the
// command exits with.
func describeWaitError(rec registry.Record, err error) error {
	switch {
	case errors.Is(err, stream.ErrDisconnected):
		return fmt.Errorf("disconnected from job %s while it was %s, run `seqtrack watch %s` to re-attach: %w", rec.FileID, rec.Status, rec.FileID, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("stopped following job %s while it was %s", rec.FileID, rec.Status)
	case err != nil:
		return err
	case rec.Status == registry.StatusError:
		if rec.View.Failure != "" {
			return fmt.Errorf("job %s failed: %s", rec.FileID, rec.View.Failure)
		}
		return fmt.Errorf("job %s failed", rec.FileID)
	}
	return nil
}
