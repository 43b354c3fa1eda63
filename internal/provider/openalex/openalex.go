// Package openalex adapts the OpenAlex works API
// (https://docs.openalex.org/api-entities/works) to provider.Adaptor.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const defaultBaseURL = "https://api.openalex.org"
const defaultTimeout = 15 * time.Second

// Adaptor queries OpenAlex's /works search endpoint.
type Adaptor struct {
	BaseURL    string
	MailTo     string // OpenAlex's polite pool: a contact email appended to requests
	HTTPClient *http.Client
}

// New constructs an OpenAlex adaptor. mailTo may be empty; OpenAlex still
// serves unattributed requests, just from a slower rate-limit pool.
func New(mailTo string) *Adaptor {
	return &Adaptor{
		BaseURL:    defaultBaseURL,
		MailTo:     mailTo,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (a *Adaptor) Name() string { return string(types.SourceOpenAlex) }

type worksResponse struct {
	Results []work `json:"results"`
}

type work struct {
	ID                     string              `json:"id"`
	DOI                    string              `json:"doi"`
	Title                  string              `json:"title"`
	PublicationYear        int                 `json:"publication_year"`
	Type                   string              `json:"type"`
	CitedByCount           int                 `json:"cited_by_count"`
	AbstractInvertedIndex  map[string][]int    `json:"abstract_inverted_index"`
	Authorships            []authorship        `json:"authorships"`
	PrimaryLocation        *location           `json:"primary_location"`
	OpenAccess             *openAccess         `json:"open_access"`
	ReferencedWorks        []string            `json:"referenced_works"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	Source *struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
}

type openAccess struct {
	OAURL string `json:"oa_url"`
}

// Search issues one OpenAlex works search for up to limit results.
func (a *Adaptor) Search(ctx context.Context, query types.NormalizedQuery, limit int) ([]types.UnifiedPaper, error) {
	q := query.APIQuery
	if q == "" {
		q = query.ExpandedKeywordQuery
	}
	if q == "" {
		q = query.OriginalKeywordQuery
	}

	params := url.Values{}
	params.Set("search", q)
	params.Set("per-page", strconv.Itoa(clamp(limit, 1, 200)))
	if a.MailTo != "" {
		params.Set("mailto", a.MailTo)
	}

	reqURL := a.BaseURL + "/works?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("openalex: build request: %w", err)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openalex: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openalex: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := provider.ParseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return nil, provider.NewHTTPStatusError(resp.StatusCode, retryAfter, fmt.Errorf("openalex: status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed worksResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openalex: decode response: %w", err)
	}

	out := make([]types.UnifiedPaper, 0, len(parsed.Results))
	for _, w := range parsed.Results {
		out = append(out, toUnifiedPaper(w))
	}
	return out, nil
}

func toUnifiedPaper(w work) types.UnifiedPaper {
	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, a.Author.DisplayName)
		}
	}

	p := types.UnifiedPaper{
		ID:            w.ID,
		Title:         w.Title,
		Year:          w.PublicationYear,
		Abstract:      reconstructAbstract(w.AbstractInvertedIndex),
		Authors:       authors,
		Source:        types.SourceOpenAlex,
		OpenAlexID:    strings.TrimPrefix(w.ID, "https://openalex.org/"),
		DOI:           strings.TrimPrefix(w.DOI, "https://doi.org/"),
		CitationCount: w.CitedByCount,
		References:    w.ReferencedWorks,
	}
	if w.Type == "preprint" {
		p.PreprintStatus = "preprint"
	}
	if w.PrimaryLocation != nil {
		if w.PrimaryLocation.Source != nil {
			p.Venue = w.PrimaryLocation.Source.DisplayName
		}
		p.LandingPageURL = w.PrimaryLocation.LandingPageURL
		p.PDFURL = w.PrimaryLocation.PDFURL
	}
	if p.PDFURL == "" && w.OpenAccess != nil {
		p.PDFURL = w.OpenAccess.OAURL
	}
	return p
}

// reconstructAbstract inverts OpenAlex's word->positions index back into a
// plain-text abstract; OpenAlex never returns abstracts as running text.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range index {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}
	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, pos := range positions {
			words[pos] = word
		}
	}
	return strings.Join(words, " ")
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
