package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yasinhessnawi1/hideme-go/internal/errors"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/sources"
)

// SearchOptions configures one batch search run.
type SearchOptions struct {
	CaseSensitive bool
	// AISearch asks the backend for semantic matches rather than
	// literal string matches.
	AISearch bool
}

// SearchResults holds per-file, per-page match lists keyed by file key.
type SearchResults map[string]map[int][]sources.SearchMatch

// The search endpoint answers a single fixed shape, so a plain struct
// decode is enough here; tolerant decoding stays with detection.
type searchResponse struct {
	Results []struct {
		File  string `json:"file"`
		Pages []struct {
			Page    int `json:"page"`
			Matches []struct {
				Text string  `json:"text"`
				X0   float64 `json:"x0"`
				Y0   float64 `json:"y0"`
				X1   float64 `json:"x1"`
				Y1   float64 `json:"y1"`
			} `json:"matches"`
		} `json:"pages"`
	} `json:"file_results"`
}

// Search runs the given terms against every file and returns match
// geometry per file and page. Files with no matches are absent from
// the result.
func (c *Client) Search(ctx context.Context, files []FileRef, terms []string, opts SearchOptions) (SearchResults, error) {
	if len(terms) == 0 {
		return SearchResults{}, nil
	}

	termsJSON, err := json.Marshal(terms)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search terms: %w", err)
	}
	fields := map[string]string{
		"search_terms":   string(termsJSON),
		"case_sensitive": fmt.Sprintf("%t", opts.CaseSensitive),
		"ai_search":      fmt.Sprintf("%t", opts.AISearch),
	}

	body, contentType, err := multipartFiles(files, fields)
	if err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategorySearch).
			Context("operation", "build_search_request").
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batch/search", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategorySearch).
			Context("operation", "decode_search_response").
			Build()
	}

	out := make(SearchResults)
	for _, fileResult := range decoded.Results {
		pages := make(map[int][]sources.SearchMatch)
		for _, page := range fileResult.Pages {
			for _, m := range page.Matches {
				rect := geom.NormalizedRect(m.X0, m.Y0, m.X1, m.Y1)
				pages[page.Page] = append(pages[page.Page], sources.SearchMatch{
					Rect: rect,
					Text: m.Text,
				})
			}
		}
		if len(pages) > 0 {
			out[fileResult.File] = pages
		}
	}

	c.logger.Debug("search run complete", "files", len(files), "terms", len(terms), "matched_files", len(out))
	return out, nil
}
