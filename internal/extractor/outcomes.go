package extractor

import (
	"regexp"
	"strings"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

var resultVocab = []string{
	"significant", "associated", " or ", " rr ", " hr ", " ci ", " vs ", " vs.",
	" p=", " p <", " p<", " p ", "randomized to",
}

var versusSeparators = []string{" versus ", " vs. ", " vs "}

const maxPhraseLen = 60

var effectSizePattern = regexp.MustCompile(`(?i)\b(OR|RR|HR|SMD|MD|IRR|β|Cohen's d)\s*[:=]?\s*(-?\d+(?:\.\d+)?)`)
var pValuePattern = regexp.MustCompile(`(?i)\bp\s*[<=]\s*0?\.\d+`)
var confidenceIntervalPattern = regexp.MustCompile(`(?i)95%\s*CI[:\s]*[\[(]?\s*-?\d+(?:\.\d+)?\s*(?:to|[-,])\s*-?\d+(?:\.\d+)?\s*[\])]?`)

// isOutcomeSentence reports whether sentence reads as a result statement
// worth mining for an outcome.
func isOutcomeSentence(sentence string) bool {
	lower := " " + strings.ToLower(sentence) + " "
	for _, term := range resultVocab {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// splitVersus splits sentence on the first "X vs Y" / "X versus Y" marker,
// trimming trailing punctuation off the comparator phrase and capping both
// sides at maxPhraseLen. Returns ok=false if no separator is present.
func splitVersus(sentence string) (intervention, comparator string, start int, ok bool) {
	lower := strings.ToLower(sentence)
	for _, sep := range versusSeparators {
		idx := strings.Index(lower, sep)
		if idx < 0 {
			continue
		}
		intervention = capPhrase(sentence[:idx])
		rest := sentence[idx+len(sep):]
		comparator = capPhrase(firstClause(rest))
		return intervention, comparator, idx, true
	}
	return "", "", -1, false
}

// splitRandomizedTo splits a "randomized to X or Y" sentence into its two
// arms. Returns ok=false if the marker isn't present.
func splitRandomizedTo(sentence string) (intervention, comparator string, start int, ok bool) {
	lower := strings.ToLower(sentence)
	const marker = "randomized to "
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return "", "", -1, false
	}
	rest := sentence[idx+len(marker):]
	restLower := strings.ToLower(rest)
	orIdx := strings.Index(restLower, " or ")
	if orIdx < 0 {
		return "", "", -1, false
	}
	intervention = capPhrase(rest[:orIdx])
	comparator = capPhrase(firstClause(rest[orIdx+len(" or "):]))
	return intervention, comparator, idx, true
}

// firstClause trims text at the first sentence-internal punctuation break
// (comma, semicolon, period, or open paren), since the comparator phrase
// usually ends there.
func firstClause(text string) string {
	cut := len(text)
	for _, r := range []string{",", ";", "(", "."} {
		if idx := strings.Index(text, r); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return text[:cut]
}

func capPhrase(phrase string) string {
	phrase = strings.TrimSpace(phrase)
	if len(phrase) > maxPhraseLen {
		phrase = phrase[:maxPhraseLen]
	}
	return phrase
}

// outcomeMeasured derives a short label for what was measured: the text
// preceding the versus / "randomized to" split point, falling back to a
// truncated sentence when no split was found.
func outcomeMeasured(sentence string, interventionStart int) string {
	label := sentence
	if interventionStart > 0 {
		label = sentence[:interventionStart]
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = sentence
	}
	const maxLen = 80
	if len(label) > maxLen {
		label = label[:maxLen]
	}
	return strings.TrimSpace(label)
}

// extractOutcomeSentences mines every result-bearing sentence in abstract
// into an Outcome, deduplicating on (outcome_measured, effect_size,
// p_value, snippet) and returning outcomes in sentence order
// (buildDeterministic sorts them by descending score).
func extractOutcomeSentences(abstract string) []types.Outcome {
	var outcomes []types.Outcome
	seen := make(map[string]struct{})

	start := 0
	spans := sentenceBoundary.FindAllStringIndex(abstract, -1)
	spans = append(spans, []int{len(abstract), len(abstract)})
	for _, loc := range spans {
		sentence := strings.TrimSpace(abstract[start:loc[0]])
		start = loc[1]
		if sentence == "" || !isOutcomeSentence(sentence) {
			continue
		}

		outcome := types.Outcome{CitationSnippet: sentence}

		interventionStart := -1
		if intervention, comparator, idx, ok := splitVersus(sentence); ok {
			outcome.Intervention, outcome.Comparator, interventionStart = intervention, comparator, idx
		} else if intervention, comparator, idx, ok := splitRandomizedTo(sentence); ok {
			outcome.Intervention, outcome.Comparator, interventionStart = intervention, comparator, idx
		}

		if m := effectSizePattern.FindString(sentence); m != "" {
			outcome.EffectSize = strings.TrimSpace(m)
		}
		if m := pValuePattern.FindString(sentence); m != "" {
			outcome.PValue = strings.TrimSpace(m)
		} else if m := confidenceIntervalPattern.FindString(sentence); m != "" {
			outcome.PValue = strings.TrimSpace(m)
		}

		outcome.OutcomeMeasured = outcomeMeasured(sentence, interventionStart)
		outcome.KeyResult = sentence

		key := strings.ToLower(outcome.OutcomeMeasured) + "|" + strings.ToLower(outcome.EffectSize) + "|" +
			strings.ToLower(outcome.PValue) + "|" + strings.ToLower(outcome.CitationSnippet)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// outcomeScore scores an outcome [0,1] by how many of its four extracted
// fields (effect_size, p_value, intervention, comparator) are present.
func outcomeScore(o types.Outcome) float64 {
	present := 0
	if o.EffectSize != "" {
		present++
	}
	if o.PValue != "" {
		present++
	}
	if o.Intervention != "" {
		present++
	}
	if o.Comparator != "" {
		present++
	}
	return float64(present) / 4.0
}
