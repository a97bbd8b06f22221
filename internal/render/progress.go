package render

import (
	"context"
	"fmt"
	"io"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/oceanomics/seqtrack/internal/events"
	"github.com/oceanomics/seqtrack/internal/pipeline"
	"github.com/oceanomics/seqtrack/internal/registry"
)

// ProgressWriter prints job events as they happen: narration, step
// transitions, clustering and verification results and the final status.
type ProgressWriter struct {
	mu    sync.Mutex
	out   io.Writer
	steps map[string]map[pipeline.StepID]pipeline.StepStatus
}

var _ events.Writer = (*ProgressWriter)(nil)

func NewProgressWriter(out io.Writer) *ProgressWriter {
	return &ProgressWriter{
		out:   out,
		steps: make(map[string]map[pipeline.StepID]pipeline.StepStatus),
	}
}

func (p *ProgressWriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	var ev events.JobEvent
	if err := e.DataAs(&ev); err != nil {
		return fmt.Errorf("decoding job event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type() {
	case events.JobCreatedKind:
		if ev.SampleID != "" {
			fmt.Fprintf(p.out, "job %s created (sample %s)\n", ev.FileID, ev.SampleID)
		} else {
			fmt.Fprintf(p.out, "job %s created\n", ev.FileID)
		}
		return nil
	case events.JobDeletedKind:
		delete(p.steps, ev.FileID)
		return nil
	}

	if ev.View.Mode == pipeline.ViewPipeline {
		p.printTransitions(ev)
	}

	switch ev.EventKind {
	case pipeline.KindLog:
		fmt.Fprintf(p.out, "    %s\n", ev.Message)
	case pipeline.KindClusteringResult:
		if s, ok := ev.View.Step(pipeline.StepClusteringResult); ok && s.ResultData != nil {
			printClustering(p.out, s.ResultData)
		}
	case pipeline.KindVerificationUpdate:
		if v := ev.View.LatestVerification; v != nil {
			fmt.Fprintf(p.out, "    cluster %s: %s (%.1f%%)\n", v.ClusterID, v.Status, v.MatchPercentage)
		}
	}

	if e.Type() == events.JobFinishedKind {
		p.printFinished(ev)
	}
	return nil
}

func (p *ProgressWriter) printTransitions(ev events.JobEvent) {
	prev, ok := p.steps[ev.FileID]
	if !ok {
		prev = make(map[pipeline.StepID]pipeline.StepStatus)
		p.steps[ev.FileID] = prev
	}
	for _, s := range ev.View.Steps {
		before, seen := prev[s.ID]
		if !seen {
			before = pipeline.StepPending
		}
		if s.Status != before {
			fmt.Fprintf(p.out, "%s %s\n", Marker(s.Status), s.Label)
		}
		prev[s.ID] = s.Status
	}
}

func (p *ProgressWriter) printFinished(ev events.JobEvent) {
	switch {
	case ev.Status == registry.StatusError && ev.View.Failure != "":
		fmt.Fprintf(p.out, "job %s failed: %s\n", ev.FileID, ev.View.Failure)
	case ev.Status == registry.StatusError:
		fmt.Fprintf(p.out, "job %s failed\n", ev.FileID)
	case ev.View.Mode == pipeline.ViewRaw:
		fmt.Fprintf(p.out, "job %s complete\n", ev.FileID)
		_ = Raw(p.out, ev.View.Raw)
	default:
		fmt.Fprintf(p.out, "job %s complete\n", ev.FileID)
	}
}

func (p *ProgressWriter) Close(_ context.Context) error {
	return nil
}
