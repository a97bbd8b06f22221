package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/render"
)

var historyKinds = map[string]client.HistoryType{
	"analysis":  client.HistoryAnalysis,
	"analyses":  client.HistoryAnalysis,
	"training":  client.HistoryTraining,
	"trainings": client.HistoryTraining,
}

// parseHistoryKindID splits TYPE/ID as accepted by `history delete`.
func parseHistoryKindID(arg string) (client.HistoryType, string, error) {
	kind, id, found := strings.Cut(arg, "/")
	typ, ok := historyKinds[strings.ToLower(kind)]
	if !ok {
		return "", "", fmt.Errorf("invalid history kind: %s", kind)
	}
	if !found || id == "" {
		return "", "", fmt.Errorf("missing id in %q, expected TYPE/ID", arg)
	}
	return typ, id, nil
}

func validateOutput(output string) error {
	if len(output) > 0 && !funk.Contains(render.OutputFormats, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(render.OutputFormats, ", "))
	}
	return nil
}

func outputUsage() string {
	return fmt.Sprintf("Output format. One of: (%s).", strings.Join(render.OutputFormats, ", "))
}

// printOutput writes v in the requested format, falling back to table for an
// empty format.
func printOutput(w io.Writer, output string, v any, table func(io.Writer) error) error {
	if output == "" || output == render.TableFormat {
		return table(w)
	}
	return render.Marshal(w, output, v)
}
