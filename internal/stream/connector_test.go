package stream_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/stream"
)

// backend serves a scripted list of records on /ws/{file_id}, then closes.
type backend struct {
	mu       sync.Mutex
	scripts  map[string][]string
	upgrader websocket.Upgrader
}

func newBackend() *backend {
	return &backend{scripts: map[string][]string{}}
}

func (b *backend) script(fileID string, records ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[fileID] = records
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimPrefix(r.URL.Path, "/ws/")
	b.mu.Lock()
	records, ok := b.scripts[fileID]
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for _, rec := range records {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(rec)); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	// let the client read the close frame before the connection goes away
	time.Sleep(50 * time.Millisecond)
}

func waitDone(sub *stream.Subscription) {
	GinkgoHelper()
	Eventually(sub.Done()).WithTimeout(5 * time.Second).Should(BeClosed())
}

var _ = Describe("WebsocketDialer", func() {
	It("derives the stream address from the server url", func() {
		d, err := stream.NewWebsocketDialer("http://127.0.0.1:8000", 0)
		Expect(err).To(BeNil())
		Expect(d.URL("abc-123")).To(Equal("ws://127.0.0.1:8000/ws/abc-123"))

		d, err = stream.NewWebsocketDialer("https://analysis.example.org/api/", 0)
		Expect(err).To(BeNil())
		Expect(d.URL("abc")).To(Equal("wss://analysis.example.org/api/ws/abc"))
	})

	It("rejects unsupported urls", func() {
		_, err := stream.NewWebsocketDialer("ftp://host", 0)
		Expect(err).ToNot(BeNil())
		_, err = stream.NewWebsocketDialer("http://", 0)
		Expect(err).ToNot(BeNil())
	})
})

var _ = Describe("Connector", func() {
	var (
		srv       *httptest.Server
		be        *backend
		reg       *registry.Registry
		connector *stream.Connector
	)

	BeforeEach(func() {
		be = newBackend()
		srv = httptest.NewServer(be)
		reg = registry.New()
		dialer, err := stream.NewWebsocketDialer(srv.URL, time.Second)
		Expect(err).To(BeNil())
		connector = stream.NewConnector(dialer, reg)
	})

	AfterEach(func() {
		connector.Close()
		srv.Close()
	})

	create := func(fileID string) {
		_, err := reg.Create(fileID, registry.Metadata{})
		Expect(err).To(BeNil())
	}

	Context("a full analysis run", func() {
		It("derives every step and ends the subscription", func() {
			create("job-1")
			be.script("job-1",
				`{"type":"log","message":"Reading Sequences from FASTQ file..."}`,
				`{"type":"log","message":"Found 120 sequences"}`,
				`{"type":"log","message":"Generating AI Embeddings..."}`,
				`{"type":"log","message":"Running UMAP & HDBSCAN..."}`,
				`{"type":"log","message":"Connecting to analysis service (attempt 1/3)..."}`,
				`{"type":"log","message":"Clustering Complete"}`,
				`{"type":"clustering_result","data":{"total_reads":120,"total_clusters":2,"noise_count":3,"noise_percentage":2.5,"top_groups":[{"group_id":0,"genus":"Calanus","class":"Hexanauplia","count":80,"percentage":66.7}]}}`,
				`{"type":"log","message":"Starting NCBI Verification (Slow)..."}`,
				`{"type":"verification_update","data":{"step":"Verification 1/2","cluster_id":0,"status":"KNOWN (Old)","match_percentage":99.1,"description":"Calanus finmarchicus"}}`,
				`{"type":"verification_update","data":{"step":"Verification 2/2","cluster_id":1,"status":"NOVEL (New)","match_percentage":71.0,"description":"Unknown"}}`,
				`{"type":"complete","message":"Analysis Finished."}`,
				`{"type":"log","message":"late narration"}`,
			)

			sub, err := connector.Attach(context.TODO(), "job-1")
			Expect(err).To(BeNil())
			waitDone(sub)
			Expect(sub.Err()).To(BeNil())

			rec, err := reg.Get("job-1")
			Expect(err).To(BeNil())
			Expect(rec.Status).To(Equal(registry.StatusComplete))
			Expect(rec.EventLog).To(HaveLen(11))
			Expect(rec.VerificationEntries).To(HaveLen(2))
			for _, s := range rec.View.Steps {
				Expect(s.Status).To(Equal(pipeline.StepComplete), string(s.ID))
			}
			Expect(rec.View.Verifications).To(HaveLen(2))
			Expect(rec.LatestResult.Clustering.TotalClusters).To(Equal(2))
		})
	})

	Context("malformed records", func() {
		It("drops them without touching the log", func() {
			create("job-2")
			be.script("job-2",
				`{"type":"log","message":"reading sequences"}`,
				`not json`,
				`{"type":"heartbeat"}`,
				`{"type":"progress","step":"nowhere","status":"complete"}`,
				`{"type":"log","message":"found 9 sequences"}`,
				`{"type":"error","message":"embedding service crashed"}`,
			)

			sub, err := connector.Attach(context.TODO(), "job-2")
			Expect(err).To(BeNil())
			waitDone(sub)
			Expect(sub.Err()).To(BeNil())

			rec, err := reg.Get("job-2")
			Expect(err).To(BeNil())
			Expect(rec.EventLog).To(HaveLen(3))
			Expect(rec.Status).To(Equal(registry.StatusError))
			embed, _ := rec.View.Step(pipeline.StepGenerateEmbeddings)
			Expect(embed.Status).To(Equal(pipeline.StepError))
		})
	})

	Context("transport closure", func() {
		It("reports a disconnect and keeps the log", func() {
			create("job-3")
			be.script("job-3",
				`{"type":"log","message":"reading sequences"}`,
				`{"type":"log","message":"found 9 sequences"}`,
			)

			sub, err := connector.Attach(context.TODO(), "job-3")
			Expect(err).To(BeNil())
			waitDone(sub)
			Expect(sub.Err()).To(MatchError(stream.ErrDisconnected))

			rec, err := reg.Get("job-3")
			Expect(err).To(BeNil())
			Expect(rec.Status).To(Equal(registry.StatusRunning))
			Expect(rec.EventLog).To(HaveLen(2))
		})

		It("does not duplicate a replayed log on re-attach", func() {
			create("job-4")
			be.script("job-4",
				`{"type":"log","message":"reading sequences"}`,
				`{"type":"log","message":"found 9 sequences"}`,
			)
			sub, err := connector.Attach(context.TODO(), "job-4")
			Expect(err).To(BeNil())
			waitDone(sub)

			be.script("job-4",
				`{"type":"log","message":"reading sequences"}`,
				`{"type":"log","message":"found 9 sequences"}`,
				`{"type":"log","message":"Generating AI Embeddings..."}`,
				`{"type":"complete"}`,
			)
			sub, err = connector.Attach(context.TODO(), "job-4")
			Expect(err).To(BeNil())
			waitDone(sub)
			Expect(sub.Err()).To(BeNil())

			rec, err := reg.Get("job-4")
			Expect(err).To(BeNil())
			Expect(rec.EventLog).To(HaveLen(4))
			Expect(rec.Status).To(Equal(registry.StatusComplete))
		})

		It("de-duplicates records by id", func() {
			create("job-5")
			be.script("job-5",
				`{"id":"1","type":"log","message":"reading sequences"}`,
				`{"id":"2","type":"log","message":"found 9 sequences"}`,
			)
			sub, err := connector.Attach(context.TODO(), "job-5")
			Expect(err).To(BeNil())
			waitDone(sub)

			be.script("job-5",
				`{"id":"2","type":"log","message":"found 9 sequences"}`,
				`{"id":"3","type":"log","message":"Generating AI Embeddings..."}`,
				`{"id":"3","type":"log","message":"Generating AI Embeddings..."}`,
				`{"id":"4","type":"complete"}`,
			)
			sub, err = connector.Attach(context.TODO(), "job-5")
			Expect(err).To(BeNil())
			waitDone(sub)

			rec, err := reg.Get("job-5")
			Expect(err).To(BeNil())
			ids := []string{}
			for _, ev := range rec.EventLog {
				ids = append(ids, ev.ID)
			}
			Expect(ids).To(Equal([]string{"1", "2", "3", "4"}))
		})
	})

	Context("raw results", func() {
		It("completes the job on a json_result", func() {
			create("job-6")
			be.script("job-6", `{"type":"json_result","data":{"genus":"Calanus","confidence":0.93}}`)

			sub, err := connector.Attach(context.TODO(), "job-6")
			Expect(err).To(BeNil())
			waitDone(sub)
			Expect(sub.Err()).To(BeNil())

			rec, err := reg.Get("job-6")
			Expect(err).To(BeNil())
			Expect(rec.Status).To(Equal(registry.StatusComplete))
			Expect(rec.View.Mode).To(Equal(pipeline.ViewRaw))
			Expect(rec.View.Steps).To(BeNil())
		})
	})

	Context("attach preconditions", func() {
		It("rejects unknown and finished jobs", func() {
			_, err := connector.Attach(context.TODO(), "missing")
			Expect(err).To(MatchError(registry.ErrRecordNotFound))

			create("job-7")
			_, err = reg.SetStatus("job-7", registry.StatusComplete)
			Expect(err).To(BeNil())
			_, err = connector.Attach(context.TODO(), "job-7")
			Expect(err).To(MatchError(registry.ErrJobTerminated))
		})

		It("reports a stream that cannot be opened", func() {
			create("job-8")
			_, err := connector.Attach(context.TODO(), "job-8")
			Expect(err).To(MatchError(stream.ErrDisconnected))

			rec, err := reg.Get("job-8")
			Expect(err).To(BeNil())
			Expect(rec.EventLog).To(BeEmpty())
		})
	})
})

// fakeConn delivers records pushed by the test until it is closed.
type fakeConn struct {
	records chan string
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{records: make(chan string), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r, ok := <-f.records:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, []byte(r), nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conn     *fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	return d.conn, nil
}

var _ = Describe("Subscription", func() {
	var (
		reg    *registry.Registry
		conn   *fakeConn
		dialer *fakeDialer
		c      *stream.Connector
	)

	BeforeEach(func() {
		reg = registry.New()
		conn = newFakeConn()
		dialer = &fakeDialer{conn: conn}
		c = stream.NewConnector(dialer, reg)
		_, err := reg.Create("job", registry.Metadata{})
		Expect(err).To(BeNil())
	})

	It("stops appending once detached", func() {
		sub, err := c.Attach(context.TODO(), "job")
		Expect(err).To(BeNil())

		conn.records <- `{"type":"log","message":"reading sequences"}`
		Eventually(func() int {
			rec, _ := reg.Get("job")
			return rec.EventCount()
		}).Should(Equal(1))

		sub.Detach()
		waitDone(sub)
		Expect(sub.Err()).To(BeNil())

		rec, err := reg.Get("job")
		Expect(err).To(BeNil())
		Expect(rec.EventLog).To(HaveLen(1))
		Expect(rec.Status).To(Equal(registry.StatusRunning))
	})

	It("allows one attachment per job", func() {
		sub, err := c.Attach(context.TODO(), "job")
		Expect(err).To(BeNil())
		_, err = c.Attach(context.TODO(), "job")
		Expect(err).To(MatchError(stream.ErrAlreadyAttached))

		c.Detach("job")
		waitDone(sub)
	})

	It("retries a failed attach a bounded number of times", func() {
		dialer.failures = 2
		sub, err := c.AttachWithRetry(context.TODO(), "job", stream.RetryPolicy{Attempts: 3, Interval: 20 * time.Millisecond})
		Expect(err).To(BeNil())
		Expect(dialer.dials).To(Equal(3))
		sub.Detach()
		waitDone(sub)
	})

	It("gives up after the last attempt", func() {
		dialer.failures = 5
		_, err := c.AttachWithRetry(context.TODO(), "job", stream.RetryPolicy{Attempts: 2, Interval: 20 * time.Millisecond})
		Expect(err).To(MatchError(stream.ErrDisconnected))
		Expect(dialer.dials).To(Equal(2))
	})
})
