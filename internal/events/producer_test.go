package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
)

var _ = Describe("producer", func() {
	Context("write", func() {
		It("writes in order", func() {
			w := newTestWriter()
			ep := NewEventProducer(w, WithSource("test"))

			Expect(ep.Write(context.TODO(), JobCreatedKind, "job-1", bytes.NewReader([]byte(`{"n":1}`)))).To(Succeed())
			Expect(ep.Write(context.TODO(), JobUpdatedKind, "job-1", bytes.NewReader([]byte(`{"n":2}`)))).To(Succeed())

			Eventually(w.Len).WithTimeout(time.Second).Should(Equal(2))
			msgs := w.All()
			Expect(msgs[0].Type()).To(Equal(JobCreatedKind))
			Expect(msgs[0].Subject()).To(Equal("job-1"))
			Expect(msgs[0].Source()).To(Equal("test"))
			Expect(string(msgs[1].Data())).To(MatchJSON(`{"n":2}`))

			Expect(ep.Close()).To(Succeed())
			Expect(w.closed).To(BeTrue())
		})

		It("flushes pending events on close", func() {
			w := newTestWriter()
			w.delay = 10 * time.Millisecond
			ep := NewEventProducer(w)
			for i := 0; i < 5; i++ {
				Expect(ep.Write(context.TODO(), JobUpdatedKind, "job", strings.NewReader(`{}`))).To(Succeed())
			}
			Expect(ep.Close()).To(Succeed())
			Expect(w.Len()).To(Equal(5))

			err := ep.Write(context.TODO(), JobUpdatedKind, "job", strings.NewReader(`{}`))
			Expect(err).To(MatchError(ErrProducerClosed))
		})
	})

	Context("forward", func() {
		It("publishes registry updates as job events", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)
			reg := registry.New()
			stop := Forward(reg, ep)

			_, err := reg.Create("job-1", registry.Metadata{SampleID: "S-1"})
			Expect(err).To(BeNil())
			_, err = reg.Append("job-1", pipeline.NewLogEvent("reading sequences"))
			Expect(err).To(BeNil())
			_, err = reg.Append("job-1", pipeline.NewCompleteEvent("Analysis Finished."))
			Expect(err).To(BeNil())
			stop()
			Expect(reg.Delete("job-1")).To(Succeed())

			Expect(ep.Close()).To(Succeed())
			msgs := w.All()
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[0].Type()).To(Equal(JobCreatedKind))
			Expect(msgs[1].Type()).To(Equal(JobUpdatedKind))
			Expect(msgs[2].Type()).To(Equal(JobFinishedKind))

			var payload JobEvent
			Expect(json.Unmarshal(msgs[1].Data(), &payload)).To(Succeed())
			Expect(payload.FileID).To(Equal("job-1"))
			Expect(payload.SampleID).To(Equal("S-1"))
			Expect(payload.EventKind).To(Equal(pipeline.KindLog))
			Expect(payload.EventCount).To(Equal(1))
			Expect(payload.View.Steps[0].Status).To(Equal(pipeline.StepActive))
		})
	})

	Context("json writer", func() {
		It("writes one event per line", func() {
			var out bytes.Buffer
			w := NewJSONWriter(&out)
			e := cloudevents.NewEvent()
			e.SetID("1")
			e.SetSource("seqtrack")
			e.SetType(JobUpdatedKind)
			Expect(w.Write(context.TODO(), defaultTopic, e)).To(Succeed())
			Expect(w.Write(context.TODO(), defaultTopic, e)).To(Succeed())

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			Expect(lines).To(HaveLen(2))
			Expect(lines[0]).To(ContainSubstring(JobUpdatedKind))
		})
	})
})

type testwriter struct {
	mu       sync.Mutex
	messages []cloudevents.Event
	delay    time.Duration
	closed   bool
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, e)
	return nil
}

func (t *testwriter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *testwriter) All() []cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]cloudevents.Event(nil), t.messages...)
}

func (t *testwriter) Close(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
