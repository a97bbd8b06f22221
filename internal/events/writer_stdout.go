package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// StdoutWriter logs every event, used when nothing else consumes them.
type StdoutWriter struct{}

func (s *StdoutWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	zap.S().Named("stdout_writer").Debugw("event wrote", "type", e.Type(), "subject", e.Subject(), "topic", topic)
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}
