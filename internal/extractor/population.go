package extractor

import (
	"regexp"
	"strings"
)

const populationExcerptMaxLen = 220

var populationTerms = []string{
	"participants", "patients", "subjects", "adults", "children", "women", "men",
	"cohort of", "enrolled", "recruited", "volunteers",
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+(\s+|$)`)

// extractPopulation returns the first sentence mentioning a population term,
// truncated to populationExcerptMaxLen characters.
func extractPopulation(abstract string) *string {
	if abstract == "" {
		return nil
	}
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(abstract, -1) {
		if s := populationSentence(abstract[start:loc[0]]); s != nil {
			return s
		}
		start = loc[1]
	}
	if start < len(abstract) {
		if s := populationSentence(abstract[start:]); s != nil {
			return s
		}
	}
	return nil
}

func populationSentence(sentence string) *string {
	lower := strings.ToLower(sentence)
	for _, term := range populationTerms {
		if strings.Contains(lower, term) {
			trimmed := strings.TrimSpace(sentence)
			if len(trimmed) > populationExcerptMaxLen {
				trimmed = trimmed[:populationExcerptMaxLen]
			}
			return &trimmed
		}
	}
	return nil
}
