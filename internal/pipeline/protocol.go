package pipeline

import "strings"

// Action is what a narration message asks of the pipeline.
type Action int

const (
	ActionNone Action = iota
	ActionActivate
	ActionComplete
)

// Directive is the structured form of a free-text progress message.
type Directive struct {
	Action Action
	Step   StepID
}

type logRule struct {
	all       []string
	any       []string
	directive Directive
}

// logRules encode the backend's narration phrasing. Matching is
// case-insensitive and the first matching rule wins.
var logRules = []logRule{
	{all: []string{"reading sequences"}, directive: Directive{ActionActivate, StepReadSequences}},
	{all: []string{"found", "sequences"}, directive: Directive{ActionComplete, StepReadSequences}},
	{all: []string{"generating", "embeddings"}, directive: Directive{ActionActivate, StepGenerateEmbeddings}},
	{any: []string{"umap", "hdbscan"}, directive: Directive{ActionComplete, StepGenerateEmbeddings}},
	{all: []string{"clustering complete"}, directive: Directive{ActionComplete, StepUmapHdbscan}},
	{any: []string{"ncbi", "verification"}, directive: Directive{ActionActivate, StepNcbiVerification}},
}

// InterpretLog maps a narration message to a pipeline directive. Messages
// that match no rule yield ActionNone.
func InterpretLog(message string) Directive {
	msg := strings.ToLower(message)
	for _, r := range logRules {
		if r.matches(msg) {
			return r.directive
		}
	}
	return Directive{Action: ActionNone}
}

func (r logRule) matches(msg string) bool {
	for _, s := range r.all {
		if !strings.Contains(msg, s) {
			return false
		}
	}
	if len(r.any) == 0 {
		return len(r.all) > 0
	}
	for _, s := range r.any {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
