// Package pubmed adapts NCBI's E-utilities (esearch + esummary, both in
// JSON mode) to provider.Adaptor.
package pubmed

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

const defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
const defaultTimeout = 20 * time.Second

// Adaptor queries PubMed in two calls: esearch for matching PMIDs, then
// esummary for their document details. APIKey, if set, raises NCBI's
// per-second rate limit from 3 to 10 requests.
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

func (a *Adaptor) Name() string { return string(types.SourcePubmed) }

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type docSummary struct {
	UID          string `json:"uid"`
	Title        string `json:"title"`
	PubDate      string `json:"pubdate"`
	FullJournalName string `json:"fulljournalname"`
	Authors      []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIds []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
	PubType []string `json:"pubtype"`
}

func (a *Adaptor) Search(ctx context.Context, query types.NormalizedQuery, limit int) ([]types.UnifiedPaper, error) {
	q := query.APIQuery
	if q == "" {
		q = query.ExpandedKeywordQuery
	}
	if q == "" {
		q = query.OriginalKeywordQuery
	}

	ids, err := a.esearch(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return a.esummary(ctx, ids)
}

func (a *Adaptor) esearch(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(clamp(limit, 1, 200)))
	a.addKey(params)

	body, err := a.get(ctx, "/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("pubmed: esearch: %w", err)
	}
	var parsed esearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pubmed: decode esearch response: %w", err)
	}
	return parsed.ESearchResult.IDList, nil
}

func (a *Adaptor) esummary(ctx context.Context, ids []string) ([]types.UnifiedPaper, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")
	a.addKey(params)

	body, err := a.get(ctx, "/esummary.fcgi?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("pubmed: esummary: %w", err)
	}
	var parsed esummaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pubmed: decode esummary response: %w", err)
	}

	out := make([]types.UnifiedPaper, 0, len(ids))
	for _, id := range ids {
		raw, ok := parsed.Result[id]
		if !ok {
			continue
		}
		var doc docSummary
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out = append(out, toUnifiedPaper(doc))
	}
	return out, nil
}

func toUnifiedPaper(doc docSummary) types.UnifiedPaper {
	authors := make([]string, 0, len(doc.Authors))
	for _, auth := range doc.Authors {
		if auth.Name != "" {
			authors = append(authors, auth.Name)
		}
	}

	p := types.UnifiedPaper{
		ID:               "pmid:" + doc.UID,
		Title:            doc.Title,
		Year:             parseYear(doc.PubDate),
		Authors:          authors,
		Venue:            doc.FullJournalName,
		Source:           types.SourcePubmed,
		PubmedID:         doc.UID,
		PublicationTypes: doc.PubType,
	}
	for _, aid := range doc.ArticleIds {
		if aid.IDType == "doi" {
			p.DOI = aid.Value
		}
	}
	return p
}

func parseYear(pubDate string) int {
	if len(pubDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(pubDate[:4])
	if err != nil {
		return 0
	}
	return y
}

func (a *Adaptor) addKey(params url.Values) {
	if a.APIKey != "" {
		params.Set("api_key", a.APIKey)
	}
}

func (a *Adaptor) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := provider.ParseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return nil, provider.NewHTTPStatusError(resp.StatusCode, retryAfter, fmt.Errorf("pubmed: status %d: %s", resp.StatusCode, string(body)))
	}
	return body, nil
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
