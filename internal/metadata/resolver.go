// Package metadata resolves a missing DOI for a candidate title by
// querying Crossref (primary) and OpenAlex (fallback), scoring each
// candidate match's title similarity into a confidence INGEST_PROVIDER
// can accept, defer, or reject.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
)

// Resolver looks up a DOI for a title with no already-known estimate.
// Confidence is the caller's basis for accept/defer/reject, not a
// probability Resolver itself calibrates against ground truth.
type Resolver interface {
	Resolve(ctx context.Context, title string) (doi string, confidence float64, err error)
}

// HTTPResolver is the default Resolver: a Crossref bibliographic-query
// lookup, falling back to OpenAlex's title search when Crossref returns
// nothing usable. Each candidate's confidence is its title's Jaccard
// similarity to the query title, the same metric DEDUPE's fallback-merge
// path uses for the same kind of fuzzy title match.
type HTTPResolver struct {
	CrossrefBaseURL string
	OpenAlexBaseURL string
	HTTPClient      *http.Client
}

func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{
		CrossrefBaseURL: "https://api.crossref.org/works",
		OpenAlexBaseURL: "https://api.openalex.org/works",
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPResolver) Resolve(ctx context.Context, title string) (string, float64, error) {
	if doi, confidence, ok, err := h.resolveCrossref(ctx, title); err != nil {
		return "", 0, err
	} else if ok {
		return doi, confidence, nil
	}
	return h.resolveOpenAlex(ctx, title)
}

type crossrefResponse struct {
	Message struct {
		Items []struct {
			DOI   string   `json:"DOI"`
			Title []string `json:"title"`
		} `json:"items"`
	} `json:"message"`
}

func (h *HTTPResolver) resolveCrossref(ctx context.Context, title string) (string, float64, bool, error) {
	params := url.Values{}
	params.Set("query.bibliographic", title)
	params.Set("rows", "3")

	body, err := h.get(ctx, h.CrossrefBaseURL+"?"+params.Encode())
	if err != nil {
		return "", 0, false, fmt.Errorf("metadata: crossref: %w", err)
	}

	var parsed crossrefResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, false, fmt.Errorf("metadata: crossref: decode response: %w", err)
	}

	doi, confidence, ok := bestMatch(title, len(parsed.Message.Items), func(i int) (string, string) {
		item := parsed.Message.Items[i]
		matchTitle := ""
		if len(item.Title) > 0 {
			matchTitle = item.Title[0]
		}
		return item.DOI, matchTitle
	})
	return doi, confidence, ok, nil
}

type openAlexResponse struct {
	Results []struct {
		DOI         string `json:"doi"`
		DisplayName string `json:"display_name"`
	} `json:"results"`
}

func (h *HTTPResolver) resolveOpenAlex(ctx context.Context, title string) (string, float64, error) {
	params := url.Values{}
	params.Set("search", title)
	params.Set("per-page", "3")

	body, err := h.get(ctx, h.OpenAlexBaseURL+"?"+params.Encode())
	if err != nil {
		return "", 0, fmt.Errorf("metadata: openalex: %w", err)
	}

	var parsed openAlexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("metadata: openalex: decode response: %w", err)
	}

	doi, confidence, _ := bestMatch(title, len(parsed.Results), func(i int) (string, string) {
		r := parsed.Results[i]
		return strings.TrimPrefix(r.DOI, "https://doi.org/"), r.DisplayName
	})
	return doi, confidence, nil
}

// bestMatch scores n candidates by canonicalize.TitleSimilarity against query and
// returns the highest-scoring one with a non-empty DOI.
func bestMatch(query string, n int, at func(i int) (doi, title string)) (string, float64, bool) {
	bestDOI := ""
	bestScore := 0.0
	for i := 0; i < n; i++ {
		doi, candidateTitle := at(i)
		doi = strings.TrimSpace(doi)
		if doi == "" {
			continue
		}
		score := canonicalize.TitleSimilarity(query, candidateTitle)
		if score > bestScore {
			bestScore = score
			bestDOI = doi
		}
	}
	return bestDOI, bestScore, bestDOI != ""
}

func (h *HTTPResolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
