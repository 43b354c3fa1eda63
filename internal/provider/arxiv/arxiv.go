// Package arxiv adapts the arXiv export API (an Atom feed) to
// provider.Adaptor. arXiv has no JSON endpoint, so this is the one
// adaptor in the package that parses XML.
package arxiv

import (
	"context"
	"encoding/xml"
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

const defaultBaseURL = "http://export.arxiv.org/api/query"
const defaultTimeout = 20 * time.Second

// Adaptor queries the arXiv export API's Atom search feed.
type Adaptor struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New() *Adaptor {
	return &Adaptor{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (a *Adaptor) Name() string { return string(types.SourceArxiv) }

type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Authors   []author `xml:"author"`
	Links     []link   `xml:"link"`
	DOI       string   `xml:"http://arxiv.org/schemas/atom doi"`
}

type author struct {
	Name string `xml:"name"`
}

type link struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Rel   string `xml:"rel,attr"`
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
	params.Set("search_query", "all:"+q)
	params.Set("max_results", strconv.Itoa(clamp(limit, 1, 100)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: build request: %w", err)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arxiv: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := provider.ParseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return nil, provider.NewHTTPStatusError(resp.StatusCode, retryAfter, fmt.Errorf("arxiv: status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed feed
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("arxiv: decode feed: %w", err)
	}

	out := make([]types.UnifiedPaper, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		out = append(out, toUnifiedPaper(e))
	}
	return out, nil
}

func toUnifiedPaper(e entry) types.UnifiedPaper {
	authors := make([]string, 0, len(e.Authors))
	for _, au := range e.Authors {
		if au.Name != "" {
			authors = append(authors, au.Name)
		}
	}

	p := types.UnifiedPaper{
		ID:             e.ID,
		Title:          strings.Join(strings.Fields(e.Title), " "),
		Year:           parseYear(e.Published),
		Abstract:       strings.Join(strings.Fields(e.Summary), " "),
		Authors:        authors,
		Venue:          "arXiv",
		Source:         types.SourceArxiv,
		ArxivID:        extractArxivID(e.ID),
		DOI:            e.DOI,
		PreprintStatus: "preprint",
		LandingPageURL: e.ID,
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || strings.HasSuffix(l.Href, ".pdf") {
			p.PDFURL = l.Href
		}
	}
	return p
}

func parseYear(published string) int {
	if len(published) < 4 {
		return 0
	}
	y, err := strconv.Atoi(published[:4])
	if err != nil {
		return 0
	}
	return y
}

// extractArxivID pulls e.g. "2101.00001v2" out of
// "http://arxiv.org/abs/2101.00001v2".
func extractArxivID(id string) string {
	idx := strings.LastIndex(id, "/abs/")
	if idx == -1 {
		return id
	}
	return id[idx+len("/abs/"):]
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
