package pipeline

import (
	"encoding/json"
	"sort"
)

type ViewMode string

const (
	// ViewPipeline renders the six derived steps.
	ViewPipeline ViewMode = "pipeline"
	// ViewRaw renders a json_result payload verbatim.
	ViewRaw ViewMode = "raw"
)

// View is everything derived from a job's event log.
type View struct {
	Mode               ViewMode             `json:"mode"`
	Steps              []Step               `json:"steps,omitempty"`
	Raw                json.RawMessage      `json:"raw,omitempty"`
	LatestVerification *VerificationUpdate  `json:"latest_verification,omitempty"`
	Verifications      []VerificationUpdate `json:"verifications,omitempty"`
	Terminal           bool                 `json:"terminal"`
	Failure            string               `json:"failure,omitempty"`
}

// ActiveStep returns the step currently running, if any.
func (v View) ActiveStep() (Step, bool) {
	for _, s := range v.Steps {
		if s.Status == StepActive {
			return s, true
		}
	}
	return Step{}, false
}

// Step returns the derived state of one step.
func (v View) Step(id StepID) (Step, bool) {
	for _, s := range v.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Derive recomputes the whole view from the log. It never mutates the log
// and derivations of the same log are always equal.
func Derive(log []Event) View {
	if len(log) > 0 && log[0].Kind == KindJSONResult {
		return deriveRaw(log)
	}

	f := newFold()
	for _, ev := range log {
		if f.apply(ev) {
			break
		}
	}
	return f.view()
}

// DeriveSteps returns only the step statuses of the derived view.
func DeriveSteps(log []Event) []Step {
	return Derive(log).Steps
}

func deriveRaw(log []Event) View {
	v := View{Mode: ViewRaw, Raw: log[0].Raw}
	for _, ev := range log[1:] {
		if ev.Kind.IsTerminal() {
			v.Terminal = true
			if ev.Kind == KindError {
				v.Failure = ev.Message
			}
			break
		}
	}
	return v
}

type fold struct {
	steps         []Step
	latest        *VerificationUpdate
	verifications map[ClusterID]VerificationUpdate
	terminal      bool
	failure       string
}

func newFold() *fold {
	return &fold{
		steps:         NewSteps(),
		verifications: make(map[ClusterID]VerificationUpdate),
	}
}

// apply folds one event and reports whether the log reached a terminal event.
func (f *fold) apply(ev Event) bool {
	switch ev.Kind {
	case KindLog:
		d := InterpretLog(ev.Message)
		switch d.Action {
		case ActionActivate:
			f.activate(d.Step.index())
		case ActionComplete:
			f.complete(d.Step.index())
		}
	case KindProgress:
		if ev.Progress == nil {
			return false
		}
		switch ev.Progress.Status {
		case StepComplete:
			f.complete(ev.Progress.Step.index())
		case StepActive:
			f.activate(ev.Progress.Step.index())
		}
	case KindClusteringResult:
		f.complete(StepUmapHdbscan.index())
		i := StepClusteringResult.index()
		if f.steps[i].Status != StepComplete && ev.Clustering != nil {
			result := *ev.Clustering
			result.TopGroups = append([]TopGroup(nil), ev.Clustering.TopGroups...)
			f.steps[i].ResultData = &result
		}
		f.complete(i)
	case KindVerificationUpdate:
		if ev.Verification == nil {
			return false
		}
		f.activate(StepNcbiVerification.index())
		u := *ev.Verification
		f.latest = &u
		f.verifications[u.ClusterID] = u
	case KindComplete:
		f.complete(StepNcbiVerification.index())
		f.complete(StepAnalysisComplete.index())
		f.terminal = true
	case KindError:
		f.fail()
		f.failure = ev.Message
		f.terminal = true
	}
	return f.terminal
}

// activate starts step i if it is still pending and nothing after it has
// started. An earlier running step is considered finished.
func (f *fold) activate(i int) {
	if i < 0 || f.steps[i].Status != StepPending || f.laterStarted(i) {
		return
	}
	f.finishEarlier(i)
	f.steps[i].Status = StepActive
}

// complete marks step i complete and cascades to the next step. Completing
// an already complete step is a no-op.
func (f *fold) complete(i int) {
	if i < 0 || f.steps[i].Status == StepComplete || f.steps[i].Status == StepError {
		return
	}
	f.finishEarlier(i)
	f.steps[i].Status = StepComplete

	next := i + 1
	if next < len(f.steps) && f.steps[next].Status == StepPending && !f.laterStarted(next) {
		f.steps[next].Status = StepActive
	}
}

// fail marks the running step as failed, or the first unfinished step when
// nothing is running.
func (f *fold) fail() {
	for i := range f.steps {
		if f.steps[i].Status == StepActive {
			f.steps[i].Status = StepError
			return
		}
	}
	for i := range f.steps {
		if f.steps[i].Status != StepComplete {
			f.steps[i].Status = StepError
			return
		}
	}
}

func (f *fold) laterStarted(i int) bool {
	for j := i + 1; j < len(f.steps); j++ {
		if f.steps[j].Status != StepPending {
			return true
		}
	}
	return false
}

func (f *fold) finishEarlier(i int) {
	for j := 0; j < i; j++ {
		if f.steps[j].Status == StepActive {
			f.steps[j].Status = StepComplete
		}
	}
}

func (f *fold) view() View {
	v := View{
		Mode:               ViewPipeline,
		Steps:              f.steps,
		LatestVerification: f.latest,
		Terminal:           f.terminal,
		Failure:            f.failure,
	}
	if len(f.verifications) > 0 {
		v.Verifications = make([]VerificationUpdate, 0, len(f.verifications))
		for _, u := range f.verifications {
			v.Verifications = append(v.Verifications, u)
		}
		sort.Slice(v.Verifications, func(a, b int) bool {
			return v.Verifications[a].ClusterID.less(v.Verifications[b].ClusterID)
		})
	}
	return v
}
