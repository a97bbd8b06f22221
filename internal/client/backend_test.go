package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oceanomics/seqtrack/internal/client"
)

var _ = Describe("backend client", func() {
	var (
		ctx     context.Context
		server  *httptest.Server
		backend *client.Backend
		handler http.HandlerFunc
	)

	BeforeEach(func() {
		ctx = context.Background()
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		backend = client.NewBackend(server.URL, 5*time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Health", func() {
		It("reports the backend status", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodGet))
				Expect(r.URL.Path).To(Equal("/health"))
				_, _ = w.Write([]byte(`{"status":"ok","message":"Backend is running"}`))
			}
			resp, err := backend.Health(ctx)
			Expect(err).To(BeNil())
			Expect(resp.Status).To(Equal("ok"))
		})

		It("returns an error when the backend is unreachable", func() {
			c := client.NewBackend("http://192.0.2.0:8080", 500*time.Millisecond)
			_, err := c.Health(ctx)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("failed to call backend"))
		})
	})

	Describe("Upload", func() {
		It("sends the file as multipart with its type", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/upload"))
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("type")).To(Equal(".fasta"))

				f, hdr, err := r.FormFile("file")
				Expect(err).To(BeNil())
				defer f.Close()
				Expect(hdr.Filename).To(Equal("reads.fasta"))
				data, _ := io.ReadAll(f)
				Expect(string(data)).To(Equal(">r1\nACGT\n"))

				_, _ = w.Write([]byte(`{"file_id":"f-1","sample_id":"S-1","message":"File received. Connect to WebSocket."}`))
			}

			resp, err := backend.Upload(ctx, "reads.fasta", strings.NewReader(">r1\nACGT\n"), ".fasta")
			Expect(err).To(BeNil())
			Expect(resp.FileID).To(Equal("f-1"))
			Expect(resp.SampleID).To(Equal("S-1"))
		})

		It("defaults the type to fastq", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("type")).To(Equal(".fastq"))
				_, _ = w.Write([]byte(`{"file_id":"f-2"}`))
			}
			resp, err := backend.Upload(ctx, "reads.fastq", strings.NewReader("@r1\nACGT\n+\nIIII\n"), "")
			Expect(err).To(BeNil())
			Expect(resp.SampleID).To(BeEmpty())
		})

		It("rejects a response without a file id", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				_, _ = w.Write([]byte(`{"message":"ok"}`))
			}
			_, err := backend.Upload(ctx, "reads.fastq", strings.NewReader("x"), "")
			Expect(err).To(MatchError(client.ErrEmptyResponse))
		})

		It("surfaces the backend's detail", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"detail":"Unsupported file type: exe"}`))
			}
			_, err := backend.Upload(ctx, "bad.exe", strings.NewReader("x"), ".exe")
			var apiErr *client.APIError
			Expect(err).To(BeAssignableToTypeOf(apiErr))
			Expect(err.Error()).To(ContainSubstring("Unsupported file type: exe"))
		})
	})

	Describe("Train", func() {
		It("sends the collection metadata", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/train"))
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("depth")).To(Equal("200"))
				Expect(r.FormValue("collectionDate")).To(Equal("2024-03-01"))
				Expect(r.FormValue("voyage")).To(Equal("IN2024_V01"))
				_, _ = w.Write([]byte(`{"message":"Successfully processed 3 records","model_trained":true,"num_rows":3,"num_sequences":3,"training_time":1.5,"metadata":{"voyage":"IN2024_V01"}}`))
			}
			resp, err := backend.Train(ctx, "ref.csv", strings.NewReader("sequence,species\n"), client.TrainingMetadata{
				Depth:          "200",
				CollectionDate: "2024-03-01",
				Voyage:         "IN2024_V01",
			})
			Expect(err).To(BeNil())
			Expect(resp.NumRows).To(Equal(3))
			Expect(resp.Metadata.Voyage).To(Equal("IN2024_V01"))
		})
	})

	Describe("History", func() {
		It("lists training and analysis entries", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"history":[
					{"type":"analysis","file_id":"a1","filename":"reads.fastq","sequence_count":120,"total_clusters":2,"total_reads":120,"status":"completed","result_data":{"total_reads":120},"created_at":"2024-05-01 10:00:00"},
					{"type":"training","file_id":"t1","filename":"ref.csv","num_rows":3,"training_time":1.5,"voyage":"V1","created_at":"2024-04-30 09:00:00"}
				]}`))
			}
			entries, err := backend.History(ctx)
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Type).To(Equal(client.HistoryAnalysis))
			Expect(*entries[0].TotalClusters).To(Equal(2))
			Expect(string(entries[0].ResultData)).To(MatchJSON(`{"total_reads":120}`))
			Expect(entries[1].NumRows).ToNot(BeNil())

			created, ok := entries[0].Created()
			Expect(ok).To(BeTrue())
			Expect(created).To(Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
		})

		It("deletes one entry", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodDelete))
				Expect(r.URL.Path).To(Equal("/history/analysis/a1"))
				_, _ = w.Write([]byte(`{"message":"Record deleted successfully"}`))
			}
			Expect(backend.DeleteHistory(ctx, client.HistoryAnalysis, "a1")).To(Succeed())
		})

		It("maps a missing entry to ErrNotFound", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"detail":"Record not found"}`))
			}
			err := backend.DeleteHistory(ctx, client.HistoryTraining, "nope")
			Expect(err).To(MatchError(client.ErrNotFound))
		})

		It("clears everything", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodDelete))
				Expect(r.URL.Path).To(Equal("/history"))
				_, _ = w.Write([]byte(`{"message":"All history cleared successfully"}`))
			}
			Expect(backend.ClearHistory(ctx)).To(Succeed())
		})
	})

	Describe("AnalyzeSequence", func() {
		It("returns the raw object", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/api/text-analysis"))
				var body map[string]string
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body["sequence"]).To(Equal("ACGTACGT"))
				_, _ = w.Write([]byte(`{"genus":"Calanus","confidence":0.93}`))
			}
			raw, err := backend.AnalyzeSequence(ctx, "ACGTACGT")
			Expect(err).To(BeNil())
			Expect(string(raw)).To(MatchJSON(`{"genus":"Calanus","confidence":0.93}`))
		})

		It("rejects a non-object answer", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`["Calanus"]`))
			}
			_, err := backend.AnalyzeSequence(ctx, "ACGT")
			Expect(err).To(MatchError(client.ErrEmptyResponse))
		})
	})
})
