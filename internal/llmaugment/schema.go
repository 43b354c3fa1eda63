package llmaugment

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// payloadOutcome is the strict shape of one augmented outcome. Only the
// nullable-fill fields are accepted; outcome_measured/citation_snippet are
// not included since those identify the outcome rather than being fillable.
type payloadOutcome struct {
	KeyResult    string `json:"key_result"`
	Intervention string `json:"intervention"`
	Comparator   string `json:"comparator"`
	EffectSize   string `json:"effect_size"`
	PValue       string `json:"p_value"`
}

type payloadCitation struct {
	DOI        string `json:"doi"`
	PubmedID   string `json:"pubmed_id"`
	OpenAlexID string `json:"openalex_id"`
}

// payloadStudy is the strict response shape for one augmented study. Of
// the echoed identity fields (study_id, title, year, study_design), only
// study_id (against the batch) and study_design (against its enum) are
// validated; none of them is applied by the merge step — base always wins.
type payloadStudy struct {
	StudyID        string           `json:"study_id"`
	Title          string           `json:"title"`
	Year           int              `json:"year"`
	StudyDesign    string           `json:"study_design"`
	SampleSize     *int             `json:"sample_size"`
	Population     *string          `json:"population"`
	PreprintStatus string           `json:"preprint_status"`
	ReviewType     string           `json:"review_type"`
	Source         string           `json:"source"`
	CitationCount  *int             `json:"citation_count"`
	PDFURL         *string          `json:"pdf_url"`
	LandingPageURL *string          `json:"landing_page_url"`
	Citation       payloadCitation  `json:"citation"`
	Outcomes       []payloadOutcome `json:"outcomes"`
}

var validStudyDesigns = map[string]bool{
	string(types.DesignRCT): true, string(types.DesignCohort): true,
	string(types.DesignCrossSectional): true, string(types.DesignReview): true,
	string(types.DesignUnknown): true, "": true,
}

var validReviewTypes = map[string]bool{
	string(types.ReviewNone): true, string(types.ReviewSystematic): true,
	string(types.ReviewMetaAnalysis): true, "": true,
}

var validSources = map[string]bool{
	string(types.SourceOpenAlex): true, string(types.SourceSemanticScholar): true,
	string(types.SourceArxiv): true, string(types.SourcePubmed): true, "": true,
}

var validPreprintStatus = map[string]bool{"published": true, "preprint": true, "": true}

// toPayloadStudy renders a deterministic StudyResult into the schema shape
// sent to the model, so it sees exactly the fields it's allowed to fill
// (and their current values, to know what's already set).
func toPayloadStudy(s types.StudyResult) payloadStudy {
	outcomes := make([]payloadOutcome, len(s.Outcomes))
	for i, o := range s.Outcomes {
		outcomes[i] = payloadOutcome{
			KeyResult: o.KeyResult, Intervention: o.Intervention,
			Comparator: o.Comparator, EffectSize: o.EffectSize, PValue: o.PValue,
		}
	}
	return payloadStudy{
		StudyID: s.StudyID, Title: s.Title, Year: s.Year,
		StudyDesign: string(s.StudyDesign), SampleSize: s.SampleSize, Population: s.Population,
		PreprintStatus: s.PreprintStatus, ReviewType: string(s.ReviewType), Source: string(s.Source),
		CitationCount: s.CitationCount, PDFURL: s.PDFURL, LandingPageURL: s.LandingPageURL,
		Citation: payloadCitation{DOI: s.Citation.DOI, PubmedID: s.Citation.PubmedID, OpenAlexID: s.Citation.OpenAlexID},
		Outcomes: outcomes,
	}
}

// parseAndValidate decodes the model's raw JSON array response, rejecting
// unknown fields, and checks study_id alignment (same count, same order)
// against the batch that was sent, plus enum validity on every study.
func parseAndValidate(raw []byte, expectedStudyIDs []string) ([]payloadStudy, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var studies []payloadStudy
	if err := dec.Decode(&studies); err != nil {
		return nil, fmt.Errorf("llmaugment: schema decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("llmaugment: schema: trailing data after array")
	}

	if len(studies) != len(expectedStudyIDs) {
		return nil, fmt.Errorf("llmaugment: schema: expected %d studies, got %d", len(expectedStudyIDs), len(studies))
	}
	for i, s := range studies {
		if s.StudyID != expectedStudyIDs[i] {
			return nil, fmt.Errorf("llmaugment: schema: study_id mismatch at position %d: expected %s, got %s",
				i, expectedStudyIDs[i], s.StudyID)
		}
		if !validStudyDesigns[s.StudyDesign] {
			return nil, fmt.Errorf("llmaugment: schema: study %s: invalid study_design %q", s.StudyID, s.StudyDesign)
		}
		if !validReviewTypes[s.ReviewType] {
			return nil, fmt.Errorf("llmaugment: schema: study %s: invalid review_type %q", s.StudyID, s.ReviewType)
		}
		if !validSources[s.Source] {
			return nil, fmt.Errorf("llmaugment: schema: study %s: invalid source %q", s.StudyID, s.Source)
		}
		if !validPreprintStatus[s.PreprintStatus] {
			return nil, fmt.Errorf("llmaugment: schema: study %s: invalid preprint_status %q", s.StudyID, s.PreprintStatus)
		}
	}
	return studies, nil
}
