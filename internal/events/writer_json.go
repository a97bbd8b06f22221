package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// JSONWriter writes one structured-mode cloudevent per line.
type JSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

func (j *JSONWriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(e)
}

func (j *JSONWriter) Close(_ context.Context) error {
	return nil
}

// MultiWriter fans every event out to several writers.
type MultiWriter []Writer

func (m MultiWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	var first error
	for _, w := range m {
		if err := w.Write(ctx, topic, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiWriter) Close(ctx context.Context) error {
	var first error
	for _, w := range m {
		if err := w.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
