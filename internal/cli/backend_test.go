package cli_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// fakeBackend answers the backend routes the commands call and streams a
// scripted run for each known file id.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   string
	scripts  map[string][]string
	requests []string
	upgrader websocket.Upgrader
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{scripts: map[string][]string{}}
}

func (b *fakeBackend) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.mu.Unlock()

	switch {
	case r.URL.Path == "/health":
		_, _ = w.Write([]byte(`{"status":"ok","message":"Backend is running"}`))
	case r.URL.Path == "/upload":
		_, _ = io.Copy(io.Discard, r.Body)
		b.mu.Lock()
		id := b.nextID
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"file_id":"` + id + `","sample_id":"S-7","message":"File received. Connect to WebSocket."}`))
	case r.URL.Path == "/train":
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"message":"Successfully processed 3 records","model_trained":true,"num_rows":3,"num_sequences":3,"training_time":1.25}`))
	case r.URL.Path == "/api/text-analysis":
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"genus":"Calanus","confidence":0.93}`))
	case r.URL.Path == "/history" && r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"history":[
			{"type":"analysis","file_id":"a1","filename":"reads.fastq","sequence_count":120,"total_clusters":2,"total_reads":120,"status":"completed","created_at":"2024-05-01 10:00:00"},
			{"type":"training","file_id":"t1","filename":"ref.csv","num_rows":3,"training_time":1.5,"voyage":"IN2024_V01","created_at":"2024-04-30 09:00:00"}
		]}`))
	case r.URL.Path == "/history" && r.Method == http.MethodDelete:
		_, _ = w.Write([]byte(`{"message":"All history cleared successfully"}`))
	case strings.HasPrefix(r.URL.Path, "/history/analysis/a1") && r.Method == http.MethodDelete:
		_, _ = w.Write([]byte(`{"message":"Record deleted successfully"}`))
	case strings.HasPrefix(r.URL.Path, "/history/"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Record not found"}`))
	case strings.HasPrefix(r.URL.Path, "/ws/"):
		b.stream(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) stream(w http.ResponseWriter, r *http.Request, fileID string) {
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
	time.Sleep(50 * time.Millisecond)
}

var analysisRun = []string{
	`{"type":"log","message":"Reading Sequences from FASTQ file..."}`,
	`{"type":"log","message":"Found 120 sequences"}`,
	`{"type":"log","message":"Generating AI Embeddings..."}`,
	`{"type":"log","message":"Running UMAP & HDBSCAN..."}`,
	`{"type":"log","message":"Clustering Complete"}`,
	`{"type":"clustering_result","data":{"total_reads":120,"total_clusters":2,"noise_count":6,"noise_percentage":5,"top_groups":[{"group_id":0,"genus":"Calanus","count":80,"percentage":66.7}]}}`,
	`{"type":"log","message":"Starting NCBI Verification (Slow)..."}`,
	`{"type":"verification_update","data":{"cluster_id":0,"status":"KNOWN (Old)","match_percentage":99.1}}`,
	`{"type":"complete","message":"Analysis finished"}`,
}

// run executes cmd with args and returns what it printed.
func run(cmd *cobra.Command, args ...string) (string, error) {
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}
