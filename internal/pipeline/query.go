package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// comparativeReplacements neutralizes comparative phrasing so the served
// query doesn't bias providers toward one arm of a comparison.
var comparativeReplacements = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)\bbetter than\b`), "compared to"},
	{regexp.MustCompile(`(?i)\bworse than\b`), "compared to"},
	{regexp.MustCompile(`(?i)\bsuperior to\b`), "compared to"},
	{regexp.MustCompile(`(?i)\beffects of\b`), "associated with"},
}

// conceptSynonyms is the biomedical concept table the keyword expander
// consults: lowercase concept -> ordered candidate synonyms. Only the
// first synonymsPerMode(mode) entries are ever used for a given mode.
var conceptSynonyms = map[string][]string{
	"cancer":       {"neoplasm", "tumor", "malignancy", "carcinoma"},
	"diabetes":     {"diabetes mellitus", "hyperglycemia", "glucose intolerance"},
	"hypertension": {"high blood pressure", "elevated blood pressure"},
	"depression":   {"major depressive disorder", "depressive symptoms"},
	"exercise":     {"physical activity", "physical exercise", "aerobic training"},
	"obesity":      {"excess adiposity", "overweight"},
	"stroke":       {"cerebrovascular accident", "cerebral infarction"},
	"vaccine":      {"vaccination", "immunization"},
}

func normalizeKeywordPhrasing(query string) string {
	out := query
	for _, r := range comparativeReplacements {
		out = r.pattern.ReplaceAllString(out, r.repl)
	}
	return out
}

// synonymsPerMode bounds [3,6] synonyms per concept by normalizer mode,
// a wider expansion for v2's model-aided mode than the deterministic v1/
// shadow baseline.
func synonymsPerMode(mode config.QueryPipelineMode) int {
	if mode == config.ModeV2 {
		return 6
	}
	return 3
}

func expandSynonyms(query string, mode config.QueryPipelineMode) []string {
	lower := strings.ToLower(query)
	limit := synonymsPerMode(mode)

	var concepts []string
	for concept := range conceptSynonyms {
		if strings.Contains(lower, concept) {
			concepts = append(concepts, concept)
		}
	}
	sort.Strings(concepts)

	var synonyms []string
	for _, concept := range concepts {
		candidates := conceptSynonyms[concept]
		n := limit
		if n > len(candidates) {
			n = len(candidates)
		}
		synonyms = append(synonyms, candidates[:n]...)
	}
	return synonyms
}

func buildAPIQuery(expanded string, synonyms []string) string {
	if len(synonyms) == 0 {
		return expanded
	}
	return expanded + " OR " + strings.Join(synonyms, " OR ")
}

// normalizeQuery runs the deterministic comparative-phrasing rewrite and
// keyword expansion for every mode, and additionally computes a shadow
// query in "shadow" mode (recorded for observability only, never served)
// and attempts a short-lived model-aided rewrite in "v2" mode that falls
// back to the deterministic result on timeout.
func normalizeQuery(ctx context.Context, req types.SearchRequest, mode config.QueryPipelineMode) types.NormalizedQuery {
	expanded := normalizeKeywordPhrasing(req.Query)
	synonyms := expandSynonyms(expanded, mode)
	nq := types.NormalizedQuery{
		OriginalKeywordQuery: req.Query,
		ExpandedKeywordQuery: expanded,
		APIQuery:             buildAPIQuery(expanded, synonyms),
		Synonyms:             synonyms,
		Mode:                 string(mode),
	}

	switch mode {
	case config.ModeShadow:
		shadowExpanded := normalizeKeywordPhrasing(req.Query)
		shadowSynonyms := expandSynonyms(shadowExpanded, config.ModeV2)
		nq.ShadowQuery = buildAPIQuery(shadowExpanded, shadowSynonyms)
	case config.ModeV2:
		if aided, ok := modelAidedRewrite(ctx, nq.APIQuery); ok {
			nq.APIQuery = aided
		}
	}
	return nq
}

// v2NormalizerTimeout bounds the model-aided rewrite attempt; exceeding it
// falls back to the deterministic query already computed.
const v2NormalizerTimeout = 350 * time.Millisecond

// modelAidedRewrite is a placeholder seam for a model-backed query
// rewriter: out of scope here (no model endpoint is wired for query
// normalization), so it always waits out v2NormalizerTimeout and the caller keeps
// the deterministic query — matching the spec's required fallback path
// rather than silently no-opping.
func modelAidedRewrite(ctx context.Context, deterministic string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, v2NormalizerTimeout)
	defer cancel()
	<-ctx.Done()
	return deterministic, false
}
