package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/pkg/metrics"
)

var (
	ErrAlreadyAttached = errors.New("job already has an attached stream")
	// ErrDisconnected reports a transport that could not be opened or dropped
	// before the job reached a terminal state.
	ErrDisconnected = errors.New("stream disconnected")
)

// Registry is where the connector writes parsed events.
type Registry interface {
	Get(fileID string) (registry.Record, error)
	Append(fileID string, ev pipeline.Event) (registry.Record, error)
	SetStatus(fileID string, status registry.Status) (registry.Record, error)
}

// Connector owns at most one live connection per job and feeds every parsed
// record into the job's event log.
type Connector struct {
	dialer   Dialer
	registry Registry

	mu   sync.Mutex
	subs map[string]*Subscription
	log  *zap.SugaredLogger
}

func NewConnector(dialer Dialer, reg Registry) *Connector {
	return &Connector{
		dialer:   dialer,
		registry: reg,
		subs:     make(map[string]*Subscription),
		log:      zap.S().Named("stream"),
	}
}

// Attach opens the job's stream and starts appending its records. A job that
// was attached before is resumed: records replayed by the backend are not
// appended twice.
func (c *Connector) Attach(ctx context.Context, fileID string) (*Subscription, error) {
	rec, err := c.registry.Get(fileID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() || rec.View.Terminal {
		return nil, fmt.Errorf("job %s: %w", fileID, registry.ErrJobTerminated)
	}

	c.mu.Lock()
	if s, ok := c.subs[fileID]; ok && !s.finished() {
		c.mu.Unlock()
		return nil, fmt.Errorf("job %s: %w", fileID, ErrAlreadyAttached)
	}
	s := &Subscription{
		fileID:    fileID,
		connector: c,
		replay:    newReplayFilter(rec.EventLog),
		done:      make(chan struct{}),
	}
	c.subs[fileID] = s
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, fileID)
	if err != nil {
		metrics.IncreaseAttachesMetric("failed")
		c.release(s)
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		_ = conn.Close()
		return s, nil
	}
	s.conn = conn
	s.mu.Unlock()
	metrics.IncreaseAttachesMetric("attached")
	metrics.IncreaseSubscriptionsMetric()

	c.log.Infow("attached", "file_id", fileID, "resumed_events", len(rec.EventLog))
	go s.run()
	return s, nil
}

// Detach stops the job's subscription, if any.
func (c *Connector) Detach(fileID string) {
	c.mu.Lock()
	s, ok := c.subs[fileID]
	c.mu.Unlock()
	if ok {
		s.Detach()
	}
}

// Close detaches every subscription.
func (c *Connector) Close() {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Detach()
	}
}

func (c *Connector) release(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[s.fileID] == s {
		delete(c.subs, s.fileID)
	}
}

// Subscription is one live attachment of a job's stream.
type Subscription struct {
	fileID    string
	connector *Connector
	replay    *replayFilter

	mu       sync.Mutex
	conn     Conn
	detached bool
	err      error
	done     chan struct{}
	once     sync.Once
}

func (s *Subscription) FileID() string {
	return s.fileID
}

// Done is closed when the subscription ends: on a terminal event, on
// transport closure or on Detach.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil when the job reached a terminal state or the subscription was
// detached. A transport that dropped earlier yields ErrDisconnected.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Detach stops appending immediately. No record read after Detach returns
// reaches the job's log; the log itself is kept. It must not be called from
// a registry listener of the same job.
func (s *Subscription) Detach() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.connector.log.Debugw("detached", "file_id", s.fileID)
	if conn == nil {
		s.finish(nil)
	}
}

func (s *Subscription) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		if s.detached {
			err = nil
		}
		s.err = err
		hadConn := s.conn != nil
		s.mu.Unlock()

		if hadConn {
			metrics.DecreaseSubscriptionsMetric()
		}
		s.connector.release(s)
		close(s.done)
	})
}

func (s *Subscription) run() {
	defer utilruntime.HandleCrash()
	log := s.connector.log.With("file_id", s.fileID)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Infow("stream closed by backend before the job finished")
			} else {
				log.Debugw("stream read failed", "error", err)
			}
			s.finish(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}

		ev, err := pipeline.Parse(data)
		if err != nil {
			reason := metrics.DropMalformed
			if errors.Is(err, pipeline.ErrUnknownKind) {
				reason = metrics.DropUnknown
			}
			metrics.IncreaseDroppedRecordsMetric(reason)
			log.Debugw("dropping record", "error", err)
			continue
		}
		if s.replay.skip(ev) {
			metrics.IncreaseDroppedRecordsMetric(metrics.DropDuplicate)
			continue
		}

		done, err := s.deliver(ev)
		if err != nil {
			s.finish(err)
			_ = s.conn.Close()
			return
		}
		if done {
			s.finish(nil)
			_ = s.conn.Close()
			return
		}
	}
}

// deliver appends ev unless the subscription was detached, and reports
// whether the job is finished.
func (s *Subscription) deliver(ev pipeline.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return true, nil
	}

	reg := s.connector.registry
	rec, err := reg.Append(s.fileID, ev)
	switch {
	case errors.Is(err, registry.ErrJobTerminated):
		metrics.IncreaseDroppedRecordsMetric(metrics.DropRejected)
		return true, nil
	case errors.Is(err, registry.ErrViewModeConflict):
		metrics.IncreaseDroppedRecordsMetric(metrics.DropRejected)
		return false, nil
	case err != nil:
		return false, err
	}
	metrics.IncreaseStreamRecordsMetric(string(ev.Kind))

	if ev.Kind == pipeline.KindJSONResult {
		// a raw payload is the whole result of the job
		rec, err = reg.SetStatus(s.fileID, registry.StatusComplete)
		if err != nil {
			return false, err
		}
	}
	return rec.Status.IsTerminal(), nil
}
