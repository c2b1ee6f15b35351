// Package backend implements the clients for the external detection,
// search and redaction services. All response-shape tolerance lives at
// this boundary: whatever shape the service answers with is normalized
// into one canonical internal type immediately upon receipt, and the
// rest of the engine never re-checks shape.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/yasinhessnawi1/hideme-go/internal/errors"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
)

const (
	// DefaultTimeout is the default timeout for backend requests.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "HideMe-Go"
)

// FileRef identifies one document sent to the backend. Key is the
// engine's file key; Name and Data feed the multipart upload.
type FileRef struct {
	Key  string
	Name string
	Data []byte
}

// Client is the shared HTTP client for all backend operations, with
// context-aware requests, a default timeout and client-side rate
// limiting.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a backend client. requestsPerSec <= 0 disables the
// rate limiter.
func NewClient(baseURL string, timeout time.Duration, requestsPerSec float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logging.ForService("backend-client"),
	}
}

// do executes one request against the backend, applying the rate
// limiter and wrapping failures with network context.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("backend").
				Category(errors.CategoryNetwork).
				Context("operation", "rate_limit_wait").
				Build()
		}
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.Path).
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, errors.Newf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body)).
			Component("backend").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.Path).
			Context("status", resp.StatusCode).
			Build()
	}
	return resp, nil
}

// multipartFiles writes the given files into a multipart form along
// with any extra string fields, returning the body and content type.
func multipartFiles(files []FileRef, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write file data: %w", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
