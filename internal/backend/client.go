// Package backend is the HTTP client for the local sidecar process that owns
// inference, OCR and retrieval. Every call here is a boundary crossing: the
// bridge stays fully functional in memory when the sidecar is unreachable.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/session"
)

const defaultTimeout = 30 * time.Second

// UploadResult is the sidecar's answer to a document upload. FileHash may be
// empty on older sidecars; callers degrade to name-based scoping.
type UploadResult struct {
	FileHash string `json:"fileHash"`
	Summary  string `json:"summary"`
}

// StreamRequest opens one generation stream.
type StreamRequest struct {
	Message              string             `json:"message"`
	DocumentFilter       string             `json:"documentFilter,omitempty"`
	SearchMode           session.SearchMode `json:"searchMode"`
	ColorFilter          string             `json:"colorFilter,omitempty"`
	IncludeOtherSessions bool               `json:"includeOtherSessions"`
}

// DocumentInfo describes one indexed document.
type DocumentInfo struct {
	Name      string `json:"name"`
	FileHash  string `json:"fileHash,omitempty"`
	PageCount int    `json:"pageCount,omitempty"`
}

// Status reports sidecar health.
type Status struct {
	Healthy     bool   `json:"healthy"`
	ModelLoaded bool   `json:"modelLoaded"`
	Backend     string `json:"backend,omitempty"`
}

// Client talks to the sidecar. The zero value is not usable; construct with
// New.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New builds a sidecar client. The stream transport deliberately carries no
// client-side timeout: generations routinely outlive any fixed deadline and
// are bounded by the caller's context instead.
func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Upload sends raw document bytes for indexing and returns the sidecar's
// hash and summary.
func (c *Client) Upload(ctx context.Context, name string, doc []byte) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := part.Write(doc); err != nil {
		return UploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result UploadResult
	if err := c.do(req, &result); err != nil {
		return UploadResult{}, err
	}
	return result, nil
}

// CreateSession mirrors a new session to the sidecar store.
func (c *Client) CreateSession(ctx context.Context, rec session.Record) error {
	return c.postJSON(ctx, "/sessions", rec, nil)
}

// UpdateSession mirrors a session mutation (title, search mode, flags).
func (c *Client) UpdateSession(ctx context.Context, rec session.Record) error {
	return c.requestJSON(ctx, http.MethodPut, "/sessions/"+url.PathEscape(rec.ID), rec, nil)
}

// DeleteSession removes a session from the sidecar store.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.requestJSON(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// DeleteAllSessions clears the sidecar session store.
func (c *Client) DeleteAllSessions(ctx context.Context) error {
	return c.requestJSON(ctx, http.MethodDelete, "/sessions", nil, nil)
}

// ListSessions returns the persisted session snapshot used for hydration.
func (c *Client) ListSessions(ctx context.Context) ([]session.Record, error) {
	var records []session.Record
	if err := c.requestJSON(ctx, http.MethodGet, "/sessions", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListMessages returns a session's message history for lazy loading.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	var messages []session.Message
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.requestJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendMessage mirrors a finalized message.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	return c.postJSON(ctx, path, msg, nil)
}

// OpenStream starts a generation and returns the raw frame stream. The
// caller owns the returned body and must close it.
func (c *Client) OpenStream(ctx context.Context, sr StreamRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No fixed timeout here; cancellation comes from ctx or Stop.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("sidecar stream error: %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

// Stop asks the sidecar to halt whatever generation is currently active.
// There is no per-session granularity upstream.
func (c *Client) Stop(ctx context.Context) error {
	return c.postJSON(ctx, "/chat/stop", nil, nil)
}

// GenerateTitle asks for a short conversation title based on the first
// exchange.
func (c *Client) GenerateTitle(ctx context.Context, userMessage, assistantMessage string) (string, error) {
	payload := map[string]string{
		"userMessage":      userMessage,
		"assistantMessage": assistantMessage,
	}
	var result struct {
		Title string `json:"title"`
	}
	if err := c.postJSON(ctx, "/chat/title", payload, &result); err != nil {
		return "", err
	}
	title := strings.Trim(strings.TrimSpace(result.Title), "\"'")
	if title == "" {
		return "", fmt.Errorf("sidecar returned an empty title")
	}
	return title, nil
}

// ListDocuments returns the sidecar's indexed documents.
func (c *Client) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	var docs []DocumentInfo
	if err := c.requestJSON(ctx, http.MethodGet, "/documents", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteDocument removes one document from the sidecar index.
func (c *Client) DeleteDocument(ctx context.Context, name string) error {
	return c.requestJSON(ctx, http.MethodDelete, "/documents/"+url.PathEscape(name), nil, nil)
}

// ClearDocuments wipes the sidecar index.
func (c *Client) ClearDocuments(ctx context.Context) error {
	return c.requestJSON(ctx, http.MethodDelete, "/documents", nil, nil)
}

// GetStatus probes sidecar health.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	var st Status
	if err := c.requestJSON(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return Status{}, err
	}
	st.Healthy = true
	return st, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	return c.requestJSON(ctx, http.MethodPost, path, in, out)
}

func (c *Client) requestJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sidecar error: %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
