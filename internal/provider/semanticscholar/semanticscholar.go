// Package semanticscholar adapts the Semantic Scholar Graph API
// (https://api.semanticscholar.org/graph/v1) to provider.Adaptor.
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const defaultBaseURL = "https://api.semanticscholar.org/graph/v1"
const defaultTimeout = 15 * time.Second

const fields = "title,abstract,year,authors,venue,externalIds,citationCount,openAccessPdf,publicationTypes,isOpenAccess"

// Adaptor queries Semantic Scholar's /paper/search endpoint. APIKey, if
// set, is sent as x-api-key for the higher partner rate limit; the
// unauthenticated public pool is used when it's empty.
type Adaptor struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(apiKey string) *Adaptor {
	return &Adaptor{
		BaseURL:    defaultBaseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (a *Adaptor) Name() string { return string(types.SourceSemanticScholar) }

type searchResponse struct {
	Data []paper `json:"data"`
}

type paper struct {
	PaperID          string            `json:"paperId"`
	Title            string            `json:"title"`
	Abstract         string            `json:"abstract"`
	Year             int               `json:"year"`
	Venue            string            `json:"venue"`
	CitationCount    int               `json:"citationCount"`
	IsOpenAccess     bool              `json:"isOpenAccess"`
	PublicationTypes []string          `json:"publicationTypes"`
	Authors          []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ExternalIDs struct {
		DOI     string `json:"DOI"`
		PubMed  string `json:"PubMed"`
		ArXiv   string `json:"ArXiv"`
	} `json:"externalIds"`
	OpenAccessPDF *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
}

func (a *Adaptor) Search(ctx context.Context, query types.NormalizedQuery, limit int) ([]types.UnifiedPaper, error) {
	q := query.APIQuery
	if q == "" {
		q = query.ExpandedKeywordQuery
	}
	if q == "" {
		q = query.OriginalKeywordQuery
	}

	params := url.Values{}
	params.Set("query", q)
	params.Set("limit", strconv.Itoa(clamp(limit, 1, 100)))
	params.Set("fields", fields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/paper/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("semanticscholar: build request: %w", err)
	}
	if a.APIKey != "" {
		req.Header.Set("x-api-key", a.APIKey)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semanticscholar: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("semanticscholar: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := provider.ParseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return nil, provider.NewHTTPStatusError(resp.StatusCode, retryAfter, fmt.Errorf("semanticscholar: status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("semanticscholar: decode response: %w", err)
	}

	out := make([]types.UnifiedPaper, 0, len(parsed.Data))
	for _, p := range parsed.Data {
		out = append(out, toUnifiedPaper(p))
	}
	return out, nil
}

func toUnifiedPaper(p paper) types.UnifiedPaper {
	authors := make([]string, 0, len(p.Authors))
	for _, auth := range p.Authors {
		if auth.Name != "" {
			authors = append(authors, auth.Name)
		}
	}

	up := types.UnifiedPaper{
		ID:               p.PaperID,
		Title:            p.Title,
		Year:             p.Year,
		Abstract:         p.Abstract,
		Authors:          authors,
		Venue:            p.Venue,
		Source:           types.SourceSemanticScholar,
		DOI:              p.ExternalIDs.DOI,
		PubmedID:         p.ExternalIDs.PubMed,
		ArxivID:          p.ExternalIDs.ArXiv,
		CitationCount:    p.CitationCount,
		PublicationTypes: p.PublicationTypes,
	}
	if p.OpenAccessPDF != nil {
		up.PDFURL = p.OpenAccessPDF.URL
	}
	return up
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
