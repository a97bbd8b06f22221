package render

import (
	"encoding/json"
	"fmt"
	"io"

	"sigs.k8s.io/yaml"
)

const (
	TableFormat = "table"
	JSONFormat  = "json"
	YAMLFormat  = "yaml"
)

var OutputFormats = []string{TableFormat, JSONFormat, YAMLFormat}

// Marshal writes v as json or yaml.
func Marshal(w io.Writer, format string, v any) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case JSONFormat:
		data, err = json.MarshalIndent(v, "", "  ")
	case YAMLFormat:
		data, err = yaml.Marshal(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("marshalling output: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
