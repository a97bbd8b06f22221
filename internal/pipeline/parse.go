package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownKind    = errors.New("unknown event kind")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes one stream record into a typed Event. Records of an unknown
// kind, or whose payload does not match their kind, are rejected.
func Parse(data []byte) (Event, error) {
	var rec wireRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := Event{ID: rec.ID, Kind: rec.Type}
	switch rec.Type {
	case KindLog:
		if rec.Message == "" {
			return Event{}, fmt.Errorf("%w: log record without message", ErrMalformedEvent)
		}
		ev.Message = rec.Message
	case KindComplete, KindError:
		ev.Message = rec.Message
	case KindProgress:
		p := &ProgressUpdate{Step: rec.Step, Status: rec.Status}
		if err := validate.Struct(p); err != nil {
			return Event{}, fmt.Errorf("%w: progress: %v", ErrMalformedEvent, err)
		}
		ev.Progress = p
	case KindClusteringResult:
		c := &ClusteringResult{}
		if err := decodeData(rec.Data, c); err != nil {
			return Event{}, fmt.Errorf("%w: clustering_result: %v", ErrMalformedEvent, err)
		}
		ev.Clustering = c
	case KindVerificationUpdate:
		v := &VerificationUpdate{}
		if err := decodeData(rec.Data, v); err != nil {
			return Event{}, fmt.Errorf("%w: verification_update: %v", ErrMalformedEvent, err)
		}
		ev.Verification = v
	case KindJSONResult:
		trimmed := bytes.TrimSpace(rec.Data)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return Event{}, fmt.Errorf("%w: json_result data must be an object", ErrMalformedEvent)
		}
		ev.Raw = append(json.RawMessage(nil), trimmed...)
	case "":
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, rec.Type)
	}
	return ev, nil
}

func decodeData(data json.RawMessage, into any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, into); err != nil {
		return err
	}
	return validate.Struct(into)
}
