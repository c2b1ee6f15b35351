package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/errors"
)

// DetectOptions configures one detection run.
type DetectOptions struct {
	// Engines maps detection engine names to the entity lists they
	// should look for.
	Engines map[string][]string
	// Threshold is the minimum confidence score to report.
	Threshold float64
	// Banlist contains terms never reported as sensitive.
	Banlist []string
}

// Detect runs entity detection on the given files and returns a
// canonical mapping per file key. The backend answers per file with
// either a flat mapping object or a {"redaction_mapping": ...} wrapper;
// both shapes are accepted here and never leak past this function.
// Every returned mapping carries its file key and a fresh run ID.
func (c *Client) Detect(ctx context.Context, files []FileRef, opts DetectOptions) (map[string]*detection.Mapping, error) {
	fields := map[string]string{
		"threshold": fmt.Sprintf("%g", opts.Threshold),
	}
	if len(opts.Engines) > 0 {
		enginesJSON, err := json.Marshal(opts.Engines)
		if err != nil {
			return nil, fmt.Errorf("failed to encode engine lists: %w", err)
		}
		fields["requested_entities"] = string(enginesJSON)
	}
	if len(opts.Banlist) > 0 {
		banlistJSON, err := json.Marshal(opts.Banlist)
		if err != nil {
			return nil, fmt.Errorf("failed to encode banlist: %w", err)
		}
		fields["banlist"] = string(banlistJSON)
	}

	body, contentType, err := multipartFiles(files, fields)
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryDetection).
			Context("operation", "build_detect_request").
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batch/detect", body)
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
			Category(errors.CategoryDetection).
			Context("operation", "read_detect_response").
			Build()
	}

	runID := uuid.New().String()
	mappings, err := decodeDetectResponse(payload, runID)
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryDetection).
			Context("operation", "decode_detect_response").
			Build()
	}

	c.logger.Debug("detection run complete",
		"files", len(files),
		"mapped_files", len(mappings),
		"run_id", runID)
	return mappings, nil
}

// decodeDetectResponse normalizes the backend's per-file results into
// canonical mappings, whatever wrapper shape each entry uses.
func decodeDetectResponse(payload []byte, runID string) (map[string]*detection.Mapping, error) {
	root, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}

	entries := root.Map()
	out := make(map[string]*detection.Mapping, len(entries))
	for fileKey, value := range entries {
		entry, err := value.Object()
		if err != nil {
			// Non-object entries (status strings, counts) are metadata,
			// not per-file results.
			continue
		}
		mapping := decodeMapping(entry)
		if mapping == nil {
			continue
		}
		mapping.FileKey = fileKey
		mapping.RunID = runID
		out[fileKey] = mapping
	}
	return out, nil
}

// decodeMapping accepts either the mapping object directly or a
// {"redaction_mapping": mapping} wrapper. Returns nil when neither
// shape yields pages.
func decodeMapping(entry *jason.Object) *detection.Mapping {
	source := entry
	if wrapped, err := entry.GetObject("redaction_mapping"); err == nil {
		source = wrapped
	}

	pageObjs, err := source.GetObjectArray("pages")
	if err != nil {
		return nil
	}

	mapping := &detection.Mapping{}
	for _, pageObj := range pageObjs {
		pageNum, err := pageObj.GetInt64("page")
		if err != nil {
			continue
		}
		page := detection.PageMapping{Page: int(pageNum)}

		spanObjs, err := pageObj.GetObjectArray("sensitive")
		if err == nil {
			for _, spanObj := range spanObjs {
				span, ok := decodeSpan(spanObj)
				if !ok {
					continue
				}
				page.Sensitive = append(page.Sensitive, span)
			}
		}
		mapping.Pages = append(mapping.Pages, page)
	}
	return mapping
}

func decodeSpan(obj *jason.Object) (detection.Sensitive, bool) {
	entityType, err := obj.GetString("entity_type")
	if err != nil {
		return detection.Sensitive{}, false
	}

	span := detection.Sensitive{EntityType: entityType}
	if content, err := obj.GetString("content"); err == nil {
		span.Content = content
	}
	if score, err := obj.GetFloat64("score"); err == nil {
		span.Score = score
	}
	if model, err := obj.GetString("model"); err == nil {
		span.Model = model
	}
	if x0, err := obj.GetFloat64("bbox", "x0"); err == nil {
		span.BBox.X0 = x0
	}
	if y0, err := obj.GetFloat64("bbox", "y0"); err == nil {
		span.BBox.Y0 = y0
	}
	if x1, err := obj.GetFloat64("bbox", "x1"); err == nil {
		span.BBox.X1 = x1
	}
	if y1, err := obj.GetFloat64("bbox", "y1"); err == nil {
		span.BBox.Y1 = y1
	}
	return span, true
}
