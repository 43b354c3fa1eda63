package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// PDFExtractRequest is one study posted to the external PDF extractor.
type PDFExtractRequest struct {
	StudyID        string `json:"study_id"`
	Title          string `json:"title"`
	Abstract       string `json:"abstract"`
	PDFURL         string `json:"pdf_url,omitempty"`
	LandingPageURL string `json:"landing_page_url,omitempty"`
	TimeoutMS      int    `json:"timeout_ms"`
}

// PDFExtractDiagnostics reports why a study did or didn't use PDF extraction.
type PDFExtractDiagnostics struct {
	UsedPDF        bool   `json:"used_pdf"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// PDFExtractResult pairs one returned study with its diagnostics.
type PDFExtractResult struct {
	StudyID     string                `json:"study_id"`
	Study       types.StudyResult     `json:"study"`
	Diagnostics PDFExtractDiagnostics `json:"diagnostics"`
}

// PDFExtractor posts a batch of studies to an external PDF-extraction
// endpoint and receives per-study results and diagnostics.
type PDFExtractor interface {
	Extract(ctx context.Context, reqs []PDFExtractRequest) ([]PDFExtractResult, error)
}

// HTTPPDFExtractor is the default PDFExtractor: a single JSON POST to a
// configured endpoint, batched by the caller.
type HTTPPDFExtractor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPPDFExtractor builds an HTTPPDFExtractor posting to endpoint with
// the given request timeout.
func NewHTTPPDFExtractor(endpoint string, timeout time.Duration) *HTTPPDFExtractor {
	return &HTTPPDFExtractor{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPPDFExtractor) Extract(ctx context.Context, reqs []PDFExtractRequest) ([]PDFExtractResult, error) {
	body, err := json.Marshal(struct {
		Studies []PDFExtractRequest `json:"studies"`
	}{Studies: reqs})
	if err != nil {
		return nil, fmt.Errorf("pdf extractor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pdf extractor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pdf extractor: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pdf extractor: status %d", resp.StatusCode)
	}

	var out struct {
		Results []PDFExtractResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pdf extractor: decode response: %w", err)
	}
	return out.Results, nil
}
