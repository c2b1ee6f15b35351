package backend

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/yasinhessnawi1/hideme-go/internal/errors"
	"github.com/yasinhessnawi1/hideme-go/internal/redaction"
)

// Redact sends the files with their merged redaction mappings and
// returns the redacted documents keyed by file name. A single-file
// request may come back as one raw PDF blob; multi-file requests come
// back as a zip archive. Both forms are unpacked here.
func (c *Client) Redact(ctx context.Context, files []FileRef, mappings map[string]*redaction.ExportMapping) (map[string][]byte, error) {
	mappingJSON, err := json.Marshal(mappings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode redaction mappings: %w", err)
	}

	body, contentType, err := multipartFiles(files, map[string]string{
		"redaction_mappings": string(mappingJSON),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryRedaction).
			Context("operation", "build_redact_request").
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batch/redact", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryRedaction).
			Context("operation", "read_redact_response").
			Build()
	}

	mediaType := resp.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	switch {
	case strings.Contains(mediaType, "zip"):
		return unpackZip(payload)
	default:
		// Single blob: attribute it to the lone request file when
		// possible, otherwise use a stable fallback name.
		name := "redacted.pdf"
		if len(files) == 1 {
			name = files[0].Name
		}
		return map[string][]byte{name: payload}, nil
	}
}

func unpackZip(payload []byte) (map[string][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryRedaction).
			Context("operation", "open_redact_archive").
			Build()
	}

	out := make(map[string][]byte, len(reader.File))
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %q: %w", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %q: %w", entry.Name, err)
		}
		out[entry.Name] = data
	}
	return out, nil
}
