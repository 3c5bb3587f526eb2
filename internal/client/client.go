// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
	"github.com/Corphon/BugReportConstructor/internal/models"
)

const maxResponseBytes = 4 << 20

// Client talks to the document store over HTTP.
type Client struct {
	baseURL string
	userID  string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithUser scopes requests to userID through the X-User-ID header.
func WithUser(userID string) Option {
	return func(c *Client) { c.userID = userID }
}

// WithToken sends a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StoreError is an {"error": ...} body returned by the store.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

// do sends a request and returns the body of a successful response. Non-2xx
// statuses and bodies carrying an "error" string both become errors.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError("document store unavailable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewTransportError("failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("document store returned %d", resp.StatusCode), statusError(data))
	}
	if msg, ok := embeddedError(data); ok {
		return nil, &StoreError{Message: msg}
	}
	return data, nil
}

// embeddedError reports the message of a {"error": "..."} object.
func embeddedError(data []byte) (string, bool) {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil || len(body.Error) == 0 {
		return "", false
	}
	var msg string
	if json.Unmarshal(body.Error, &msg) == nil {
		return msg, true
	}
	// envelope errors are objects
	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Error, &envelope) == nil && envelope.Message != "" {
		return envelope.Message, true
	}
	return "", false
}

func statusError(data []byte) error {
	if msg, ok := embeddedError(data); ok {
		return &StoreError{Message: msg}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return nil
	}
	return fmt.Errorf("%s", text)
}

// DocumentClient reads and writes one document type.
type DocumentClient[T any] struct {
	client *Client
	doc    models.DocumentType[T]
}

// Documents returns the client for doc.
func Documents[T any](c *Client, doc models.DocumentType[T]) *DocumentClient[T] {
	return &DocumentClient[T]{client: c, doc: doc}
}

func (d *DocumentClient[T]) path() string {
	return "/api/" + d.doc.Name
}

// Fetch reads the current document.
func (d *DocumentClient[T]) Fetch(ctx context.Context) (T, error) {
	data, err := d.client.do(ctx, http.MethodGet, d.path(), nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return d.doc.ParseStored(data)
}

// Save writes doc and returns the store's echo.
func (d *DocumentClient[T]) Save(ctx context.Context, doc T) (T, error) {
	var zero T
	body, err := json.Marshal(doc)
	if err != nil {
		return zero, apperrors.NewProcessingError("failed to encode document", err)
	}
	data, err := d.client.do(ctx, http.MethodPost, d.path(), body)
	if err != nil {
		return zero, err
	}
	return d.doc.ParseStored(data)
}
