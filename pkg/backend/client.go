// Package backend is the HTTP client for the remote transcription and
// response service.
//
// The service exposes two endpoints:
//
//   - POST {base}/movie       multipart form {file, sessionId} → {response, history?}
//   - POST {base}/movie/text  JSON {text, sessionId}            → {response}
//
// Any non-2xx status is returned as a *[StatusError]. Requests carry the
// caller's context; the client itself sets no overall timeout so that the
// caller's deadline decides when an upload is abandoned.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/murmur/pkg/audio"
)

const (
	// DefaultAudioPath is the audio endpoint path appended to the base URL.
	DefaultAudioPath = "/movie"

	// DefaultTextPath is the text endpoint path appended to the base URL.
	DefaultTextPath = "/movie/text"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20

	// maxErrorBody bounds the body excerpt kept on a StatusError.
	maxErrorBody = 512
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string

	// Body is the start of the response body, if any.
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return "backend: server returned HTTP " + status
}

// HistoryEntry is one message of the server-side conversation history.
type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Time parses Timestamp as RFC 3339. ok is false when the field is missing or
// malformed.
func (h HistoryEntry) Time() (t time.Time, ok bool) {
	if h.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, h.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AudioResponse is the decoded reply of the audio endpoint.
type AudioResponse struct {
	Response string         `json:"response"`
	History  []HistoryEntry `json:"history,omitempty"`
}

// LastExchange returns the final two history entries, the user's resolved
// transcription and the model's reply. ok is false when fewer than two
// entries are present.
func (r *AudioResponse) LastExchange() (user, model HistoryEntry, ok bool) {
	n := len(r.History)
	if n < 2 {
		return HistoryEntry{}, HistoryEntry{}, false
	}
	return r.History[n-2], r.History[n-1], true
}

// TextResponse is the decoded reply of the text endpoint.
type TextResponse struct {
	Response string `json:"response"`
}

type textRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

// Option is a functional option for [New].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The default client uses an
// OpenTelemetry-instrumented transport and no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAudioPath overrides [DefaultAudioPath].
func WithAudioPath(path string) Option {
	return func(c *Client) {
		c.audioPath = path
	}
}

// WithTextPath overrides [DefaultTextPath].
func WithTextPath(path string) Option {
	return func(c *Client) {
		c.textPath = path
	}
}

// Client talks to the remote service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	audioPath  string
	textPath   string
	httpClient *http.Client
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		audioPath:  DefaultAudioPath,
		textPath:   DefaultTextPath,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SubmitAudio uploads a finished recording together with the session id.
func (c *Client) SubmitAudio(ctx context.Context, payload audio.CapturedAudio, sessionID string) (*AudioResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	filename := payload.Filename
	if filename == "" {
		filename = "voice.wav"
	}
	mediaType := payload.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mediaType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("backend: create form file: %w", err)
	}
	if _, err := fw.Write(payload.Data); err != nil {
		return nil, fmt.Errorf("backend: write audio data: %w", err)
	}
	if err := mw.WriteField("sessionId", sessionID); err != nil {
		return nil, fmt.Errorf("backend: write sessionId field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("backend: close multipart writer: %w", err)
	}

	var out AudioResponse
	if err := c.post(ctx, c.audioPath, mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitText sends a typed message together with the session id.
func (c *Client) SubmitText(ctx context.Context, text, sessionID string) (*TextResponse, error) {
	data, err := json.Marshal(textRequest{Text: text, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("backend: encode text request: %w", err)
	}
	var out TextResponse
	if err := c.post(ctx, c.textPath, "application/json", bytes.NewReader(data), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(excerpt)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("backend: read response body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: parse JSON response: %w", err)
	}
	return nil
}
