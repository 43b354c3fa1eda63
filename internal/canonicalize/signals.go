package canonicalize

import (
	"strconv"
	"strings"
)

var methodsTokens = []string{"method", "methods", "participants", "sample", "dataset", "randomized", "protocol"}

// methodsPresent reports whether the abstract contains at least one of the
// methods-transparency vocabulary tokens QUALITY_FILTER also scores on.
func methodsPresent(abstract string) bool {
	lower := strings.ToLower(abstract)
	for _, tok := range methodsTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// studyDesignFamilies orders keyword families from most to least specific
// so the first match wins (e.g. "systematic review" before the bare
// "review" a meta-analysis abstract would also contain).
var studyDesignFamilies = []struct {
	hint     string
	keywords []string
}{
	{"meta-analysis", []string{"meta-analysis", "meta analysis"}},
	{"systematic review", []string{"systematic review"}},
	{"randomized controlled trial", []string{"randomized controlled trial", "randomised controlled trial", "randomized, controlled trial", "rct"}},
	{"cohort study", []string{"cohort study", "prospective cohort", "retrospective cohort"}},
	{"cross-sectional study", []string{"cross-sectional", "cross sectional"}},
	{"case-control study", []string{"case-control", "case control"}},
	{"review", []string{"review"}},
}

// studyDesignHint textually infers a coarse design label from title and
// abstract, independent of the typed StudyDesign enum the extractor later
// assigns from stricter rules.
func studyDesignHint(title, abstract string) string {
	text := strings.ToLower(title + " " + abstract)
	for _, family := range studyDesignFamilies {
		for _, kw := range family.keywords {
			if strings.Contains(text, kw) {
				return family.hint
			}
		}
	}
	return ""
}

// fingerprint builds the canonical-record cache key:
// fingerprint(normalized title, year, normalized DOI).
func fingerprint(normalizedTitle string, year int, normalizedDOI string) string {
	return normalizedTitle + "|" + strconv.Itoa(year) + "|" + normalizedDOI
}
