package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	JobCreatedKind  string = "io.seqtrack.job.created"
	JobUpdatedKind  string = "io.seqtrack.job.updated"
	JobFinishedKind string = "io.seqtrack.job.finished"
	JobDeletedKind  string = "io.seqtrack.job.deleted"
	defaultTopic    string = "seqtrack.jobs"
	defaultSource   string = "seqtrack"
)

var ErrProducerClosed = errors.New("event producer closed")

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with the buffer.
// It has a buffer to store pending events to not block the caller if the writer takes time to write the event.
// Events are written one at a time in the order they were produced.
type EventProducer struct {
	buffer    *buffer
	wakeCh    chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	writer    Writer
	topic     string
	source    string
	log       *zap.SugaredLogger
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:    newBuffer(0),
		wakeCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		writer:    w,
		topic:     defaultTopic,
		source:    defaultSource,
		log:       zap.S().Named("event_producer"),
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

// Write queues an event of the given kind about subject. It never waits for
// the writer.
func (ep *EventProducer) Write(ctx context.Context, kind string, subject string, body io.Reader) error {
	select {
	case <-ep.doneCh:
		return ErrProducerClosed
	default:
	}

	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	ep.buffer.PushBack(&message{
		Kind:    kind,
		Subject: subject,
		Data:    d,
	})

	// wake the consumer if it is idle
	select {
	case ep.wakeCh <- struct{}{}:
	default:
	}

	return nil
}

// Close writes the pending events and closes the writer, giving up after
// five seconds.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep.closeOnce.Do(func() { close(ep.doneCh) })

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		select {
		case <-ep.stoppedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		ep.log.Errorf("event producer closed with error: %s", err)
		return err
	}

	if dropped := ep.buffer.Dropped(); dropped > 0 {
		ep.log.Warnw("events dropped while the writer was busy", "count", dropped)
	}
	ep.log.Debug("event producer closed")

	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)

	for {
		ep.flush()

		select {
		case <-ep.wakeCh:
		case <-ep.doneCh:
			ep.flush()
			return
		}
	}
}

func (ep *EventProducer) flush() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(ep.source)
		e.SetType(msg.Kind)
		e.SetSubject(msg.Subject)
		e.SetTime(time.Now())
		_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

		if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
			ep.log.Errorw("failed to write event", "error", err, "type", msg.Kind, "subject", msg.Subject)
		}
	}
}
