package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrNotFound      = errors.New("not found")
)

const defaultTimeout = 300 * time.Second

// APIError is a non-2xx answer of the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

// Backend is an HTTP client for the analysis backend.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

func NewBackend(baseURL string, timeout time.Duration) *Backend {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Backend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// NewFromConfig returns a backend client for the given config.
func NewFromConfig(config *Config) *Backend {
	return NewBackend(config.Service.Server, config.Service.Timeout.Duration)
}

func (b *Backend) BaseURL() string {
	return b.baseURL
}

func (b *Backend) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := b.do(ctx, http.MethodGet, "/health", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends a sequence file for analysis. fileType is the extension the
// backend stores it under, ".fastq" when empty.
func (b *Backend) Upload(ctx context.Context, filename string, content io.Reader, fileType string) (*UploadResponse, error) {
	if fileType == "" {
		fileType = ".fastq"
	}
	body, contentType := multipartBody(filename, content, map[string]string{"type": fileType})

	var out UploadResponse
	if err := b.do(ctx, http.MethodPost, "/upload", body, contentType, &out); err != nil {
		return nil, err
	}
	if out.FileID == "" {
		return nil, fmt.Errorf("upload: %w: no file_id", ErrEmptyResponse)
	}
	return &out, nil
}

// Train uploads a labelled reference file with its collection metadata.
func (b *Backend) Train(ctx context.Context, filename string, content io.Reader, meta TrainingMetadata) (*TrainingResponse, error) {
	fields := map[string]string{
		"depth":          meta.Depth,
		"latitude":       meta.Latitude,
		"longitude":      meta.Longitude,
		"collectionDate": meta.CollectionDate,
		"voyage":         meta.Voyage,
	}
	body, contentType := multipartBody(filename, content, fields)

	var out TrainingResponse
	if err := b.do(ctx, http.MethodPost, "/train", body, contentType, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Backend) History(ctx context.Context) ([]HistoryEntry, error) {
	var out HistoryResponse
	if err := b.do(ctx, http.MethodGet, "/history", nil, "", &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// DeleteHistory removes one entry. An unknown entry yields ErrNotFound.
func (b *Backend) DeleteHistory(ctx context.Context, typ HistoryType, fileID string) error {
	path := fmt.Sprintf("/history/%s/%s", url.PathEscape(string(typ)), url.PathEscape(fileID))
	err := b.do(ctx, http.MethodDelete, path, nil, "", nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("history %s/%s: %w", typ, fileID, ErrNotFound)
	}
	return err
}

func (b *Backend) ClearHistory(ctx context.Context) error {
	return b.do(ctx, http.MethodDelete, "/history", nil, "", nil)
}

// AnalyzeSequence classifies a single sequence. The answer is an arbitrary
// JSON object returned verbatim.
func (b *Backend) AnalyzeSequence(ctx context.Context, sequence string) (json.RawMessage, error) {
	req, err := json.Marshal(map[string]string{"sequence": sequence})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out json.RawMessage
	if err := b.do(ctx, http.MethodPost, "/api/text-analysis", bytes.NewReader(req), "application/json", &out); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("text analysis: %w: expected a JSON object", ErrEmptyResponse)
	}
	return trimmed, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		if c, ok := body.(io.Closer); ok {
			_ = c.Close()
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call backend: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s %s: %w", method, path, ErrEmptyResponse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the message of an error body, which is either
// {"detail": "..."} or plain text.
func errorDetail(data []byte) string {
	var m messageResponse
	if err := json.Unmarshal(data, &m); err == nil {
		if m.Detail != "" {
			return m.Detail
		}
		if m.Message != "" {
			return m.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// multipartBody streams fields and then content as the "file" part.
func multipartBody(filename string, content io.Reader, fields map[string]string) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, filename, content, fields)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, filename string, content io.Reader, fields map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}
