package apiserver_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apiserver "github.com/oceanomics/seqtrack/internal/api_server"
	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/pkg/ratelimit"
)

var _ = Describe("status API", func() {
	var (
		reg *registry.Registry
		srv *httptest.Server
	)

	get := func(path string, out any) int {
		GinkgoHelper()
		resp, err := http.Get(srv.URL + path)
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).To(BeNil())
		if out != nil {
			Expect(json.Unmarshal(body, out)).To(Succeed(), string(body))
		}
		return resp.StatusCode
	}

	BeforeEach(func() {
		reg = registry.New()
		router, err := apiserver.NewRouter(reg, nil)
		Expect(err).To(BeNil())
		srv = httptest.NewServer(router)

		_, err = reg.Create("f-1", registry.Metadata{SampleID: "S-1", Filename: "reads.fastq"})
		Expect(err).To(BeNil())
		for _, ev := range []pipeline.Event{
			pipeline.NewLogEvent("Reading Sequences from FASTQ file..."),
			pipeline.NewLogEvent("Found 120 sequences"),
			pipeline.NewLogEvent("Generating AI Embeddings..."),
		} {
			_, err = reg.Append("f-1", ev)
			Expect(err).To(BeNil())
		}

		_, err = reg.Create("f-2", registry.Metadata{})
		Expect(err).To(BeNil())
		_, err = reg.Append("f-2", pipeline.NewErrorEvent("boom"))
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		srv.Close()
	})

	It("answers health checks", func() {
		var reply apiserver.HealthReply
		Expect(get("/health", &reply)).To(Equal(http.StatusOK))
		Expect(reply.Status).To(Equal("ok"))
	})

	It("echoes the request id", func() {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
		Expect(err).To(BeNil())
		req.Header.Set("X-Request-ID", "req-1")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		Expect(resp.Header.Get("X-Request-ID")).To(Equal("req-1"))
	})

	It("limits the request rate when configured", func() {
		router, err := apiserver.NewRouter(reg, nil, apiserver.WithRateLimit(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1}))
		Expect(err).To(BeNil())
		limited := httptest.NewServer(router)
		defer limited.Close()

		codes := []int{}
		for range 2 {
			resp, err := http.Get(limited.URL + "/api/v1/jobs")
			Expect(err).To(BeNil())
			_ = resp.Body.Close()
			codes = append(codes, resp.StatusCode)
		}
		Expect(codes).To(Equal([]int{http.StatusOK, http.StatusTooManyRequests}))
	})

	It("serves prometheus metrics", func() {
		Expect(get("/metrics", nil)).To(Equal(http.StatusOK))
	})

	It("lists the jobs with their running step", func() {
		var reply apiserver.JobListReply
		Expect(get("/api/v1/jobs", &reply)).To(Equal(http.StatusOK))
		Expect(reply.Jobs).To(HaveLen(2))
		Expect(reply.Jobs[0].FileID).To(Equal("f-1"))
		Expect(reply.Jobs[0].ActiveStep).To(Equal(pipeline.StepGenerateEmbeddings))
		Expect(reply.Jobs[0].StepStatus).To(Equal(pipeline.StepActive))
		Expect(reply.Jobs[1].ActiveStep).To(Equal(pipeline.StepReadSequences))
		Expect(reply.Jobs[1].StepStatus).To(Equal(pipeline.StepError))
	})

	It("filters the list by status", func() {
		var reply apiserver.JobListReply
		Expect(get("/api/v1/jobs?status=error", &reply)).To(Equal(http.StatusOK))
		Expect(reply.Jobs).To(HaveLen(1))
		Expect(reply.Jobs[0].FileID).To(Equal("f-2"))

		Expect(get("/api/v1/jobs?status=paused", nil)).To(Equal(http.StatusBadRequest))
	})

	It("returns one job with its derived view", func() {
		var reply map[string]any
		Expect(get("/api/v1/jobs/f-1", &reply)).To(Equal(http.StatusOK))
		Expect(reply["file_id"]).To(Equal("f-1"))
		Expect(reply["status"]).To(Equal("running"))
		Expect(reply["event_count"]).To(BeNumerically("==", 3))
		view := reply["view"].(map[string]any)
		Expect(view["steps"]).To(HaveLen(6))
	})

	It("returns 404 for an unknown job", func() {
		var reply apiserver.ErrReply
		Expect(get("/api/v1/jobs/missing", &reply)).To(Equal(http.StatusNotFound))
		Expect(reply.Message).To(ContainSubstring("not found"))
	})

	It("deletes a finished job and keeps running ones", func() {
		del := func(path string) int {
			GinkgoHelper()
			req, err := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
			Expect(err).To(BeNil())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).To(BeNil())
			_ = resp.Body.Close()
			return resp.StatusCode
		}

		Expect(del("/api/v1/jobs/f-2")).To(Equal(http.StatusNoContent))
		Expect(get("/api/v1/jobs/f-2", nil)).To(Equal(http.StatusNotFound))
		_, err := reg.Create("f-2", registry.Metadata{})
		Expect(err).To(MatchError(registry.ErrJobDeleted))

		Expect(del("/api/v1/jobs/f-1")).To(Equal(http.StatusConflict))
		Expect(get("/api/v1/jobs/f-1", nil)).To(Equal(http.StatusOK))
		Expect(del("/api/v1/jobs/missing")).To(Equal(http.StatusNotFound))
	})

	It("returns the event log from an offset", func() {
		var reply apiserver.EventListReply
		Expect(get("/api/v1/jobs/f-1/events?since=1", &reply)).To(Equal(http.StatusOK))
		Expect(reply.Total).To(Equal(3))
		Expect(reply.Events).To(HaveLen(2))
		Expect(reply.Events[0].Kind).To(Equal(pipeline.KindLog))
		Expect(reply.Events[0].Message).To(Equal("Found 120 sequences"))

		Expect(get("/api/v1/jobs/f-1/events?since=99", &reply)).To(Equal(http.StatusOK))
		Expect(reply.Events).To(BeEmpty())

		Expect(get("/api/v1/jobs/f-1/events?since=-1", nil)).To(Equal(http.StatusBadRequest))
	})

	It("runs and shuts down with its context", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(BeNil())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- apiserver.New(reg, nil, listener).Run(ctx)
		}()

		Eventually(func() error {
			resp, err := http.Get("http://" + listener.Addr().String() + "/health")
			if err == nil {
				resp.Body.Close()
			}
			return err
		}).WithTimeout(2 * time.Second).Should(Succeed())

		cancel()
		Eventually(done).WithTimeout(6 * time.Second).Should(Receive(BeNil()))
	})
})
