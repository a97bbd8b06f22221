package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of a live connection the connector reads from.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens the live progress connection of one job.
type Dialer interface {
	Dial(ctx context.Context, fileID string) (Conn, error)
}

// WebsocketDialer dials the backend's `/ws/{file_id}` endpoint.
type WebsocketDialer struct {
	base   *url.URL
	dialer *websocket.Dialer
	header http.Header
}

// NewWebsocketDialer derives the stream address from the backend's HTTP
// address: http becomes ws and https becomes wss.
func NewWebsocketDialer(serverURL string, handshakeTimeout time.Duration) (*WebsocketDialer, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", serverURL)
	}

	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &WebsocketDialer{base: u, dialer: &d, header: http.Header{}}, nil
}

// URL returns the stream address of a job.
func (w *WebsocketDialer) URL(fileID string) string {
	return w.base.JoinPath("ws", fileID).String()
}

func (w *WebsocketDialer) Dial(ctx context.Context, fileID string) (Conn, error) {
	conn, resp, err := w.dialer.DialContext(ctx, w.URL(fileID), w.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", fileID, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", fileID, err)
	}
	return conn, nil
}
