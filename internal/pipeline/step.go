package pipeline

type StepID string

const (
	StepReadSequences      StepID = "read_sequences"
	StepGenerateEmbeddings StepID = "generate_embeddings"
	StepUmapHdbscan        StepID = "umap_hdbscan"
	StepClusteringResult   StepID = "clustering_result"
	StepNcbiVerification   StepID = "ncbi_verification"
	StepAnalysisComplete   StepID = "analysis_complete"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
	StepError    StepStatus = "error"
)

// StepIDs is the fixed order of the analysis pipeline.
var StepIDs = [...]StepID{
	StepReadSequences,
	StepGenerateEmbeddings,
	StepUmapHdbscan,
	StepClusteringResult,
	StepNcbiVerification,
	StepAnalysisComplete,
}

var stepLabels = map[StepID]string{
	StepReadSequences:      "Reading Sequences",
	StepGenerateEmbeddings: "Generating AI Embeddings",
	StepUmapHdbscan:        "Running UMAP & HDBSCAN",
	StepClusteringResult:   "Clustering Result",
	StepNcbiVerification:   "NCBI Verification",
	StepAnalysisComplete:   "Analysis Complete",
}

func (id StepID) Label() string {
	if l, ok := stepLabels[id]; ok {
		return l
	}
	return string(id)
}

func (id StepID) index() int {
	for i, s := range StepIDs {
		if s == id {
			return i
		}
	}
	return -1
}

// Step is the derived state of one pipeline stage.
type Step struct {
	ID         StepID            `json:"id"`
	Label      string            `json:"label"`
	Status     StepStatus        `json:"status"`
	ResultData *ClusteringResult `json:"result_data,omitempty"`
}

// NewSteps returns the pipeline with every step pending.
func NewSteps() []Step {
	steps := make([]Step, len(StepIDs))
	for i, id := range StepIDs {
		steps[i] = Step{ID: id, Label: id.Label(), Status: StepPending}
	}
	return steps
}
