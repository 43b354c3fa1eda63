package quality

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

const (
	maxClaimClusters  = 3
	outcomeJaccardMin = 0.42
)

var sentenceSplitter = regexp.MustCompile(`[.!?]+(\s+|$)`)

var effectVocab = []string{
	"significant", "associated", " or ", " rr ", " hr ", " ci ", " vs ", " p=", " p <", " p<", " p ",
}

var positiveMarkers = []string{"increased", "higher", "improved", "greater", "elevated", "beneficial", "effective"}
var negativeMarkers = []string{"decreased", "lower", "reduced", "diminished", "worse", "ineffective", "harmful"}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "in": {}, "a": {}, "to": {}, "with": {}, "for": {},
	"was": {}, "were": {}, "is": {}, "are": {}, "this": {}, "that": {}, "an": {}, "by": {},
	"on": {}, "at": {}, "as": {}, "from": {}, "we": {}, "it": {}, "be": {},
}

type claimCandidate struct {
	paperID string
	text    string
	start   int
	end     int
	tokens  map[string]struct{}
	stance  types.ClaimStance
}

// gatherCandidates splits every kept paper's abstract into sentences and
// keeps those that read as effect/outcome statements.
func gatherCandidates(kept []types.CanonicalPaper) []claimCandidate {
	var out []claimCandidate
	for _, p := range kept {
		for _, loc := range splitSentenceSpans(p.Abstract) {
			sentence := p.Abstract[loc[0]:loc[1]]
			if isEffectSentence(sentence) {
				out = append(out, claimCandidate{
					paperID: p.PaperID,
					text:    strings.TrimSpace(sentence),
					start:   loc[0],
					end:     loc[1],
					tokens:  outcomeTokens(sentence),
					stance:  classifyStance(sentence),
				})
			}
		}
	}
	return out
}

// splitSentenceSpans returns [start,end) byte ranges for each sentence in
// text, trimming the separator from the end.
func splitSentenceSpans(text string) [][2]int {
	if text == "" {
		return nil
	}
	var spans [][2]int
	start := 0
	for _, loc := range sentenceSplitter.FindAllStringIndex(text, -1) {
		spans = append(spans, [2]int{start, loc[0]})
		start = loc[1]
	}
	if start < len(text) {
		spans = append(spans, [2]int{start, len(text)})
	}
	return spans
}

func isEffectSentence(sentence string) bool {
	lower := " " + strings.ToLower(sentence) + " "
	for _, term := range effectVocab {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func outcomeTokens(sentence string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(nonWordRe.ReplaceAllString(strings.ToLower(sentence), " ")) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

func classifyStance(sentence string) types.ClaimStance {
	lower := strings.ToLower(sentence)
	pos, neg := containsAny(lower, positiveMarkers), containsAny(lower, negativeMarkers)
	switch {
	case pos && neg:
		return types.StanceMixed
	case pos:
		return types.StancePositive
	case neg:
		return types.StanceNegative
	default:
		return types.StanceNeutral
	}
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

type claimCluster struct {
	members []claimCandidate
}

func tokenJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// clusterClaimCandidates greedily groups candidates whose outcome-token sets are
// at least outcomeJaccardMin similar to a cluster's first member.
func clusterClaimCandidates(candidates []claimCandidate) []claimCluster {
	var clusters []claimCluster
	for _, c := range candidates {
		placed := false
		for i := range clusters {
			if tokenJaccard(clusters[i].members[0].tokens, c.tokens) >= outcomeJaccardMin {
				clusters[i].members = append(clusters[i].members, c)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, claimCluster{members: []claimCandidate{c}})
		}
	}
	return clusters
}

func disposition(cluster claimCluster) string {
	pos, neg := false, false
	for _, m := range cluster.members {
		switch m.stance {
		case types.StancePositive:
			pos = true
		case types.StanceNegative:
			neg = true
		}
	}
	switch {
	case pos && neg:
		return "conflicting"
	case pos:
		return "consensus_positive"
	case neg:
		return "consensus_negative"
	default:
		return "mixed"
	}
}

func dispositionStance(label string) types.ClaimStance {
	switch label {
	case "conflicting":
		return types.StanceConflicting
	case "consensus_positive":
		return types.StancePositive
	case "consensus_negative":
		return types.StanceNegative
	default:
		return types.StanceMixed
	}
}

func snippetHash(snippet string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(snippet))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

// BuildBrief mines up to maxClaimClusters outcome clusters from kept
// papers' abstracts and returns the brief's claim sentences alongside a
// paper_id -> proposition_label map for BuildEvidenceTable.
func BuildBrief(kept []types.CanonicalPaper) ([]types.ClaimSentence, map[string]string) {
	candidates := gatherCandidates(kept)
	clusters := clusterClaimCandidates(candidates)

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].members) > len(clusters[j].members)
	})
	if len(clusters) > maxClaimClusters {
		clusters = clusters[:maxClaimClusters]
	}

	labels := make(map[string]string)
	sentences := make([]types.ClaimSentence, 0, len(clusters))
	for _, cluster := range clusters {
		label := disposition(cluster)
		anchors := make([]types.CitationAnchor, 0, len(cluster.members))
		for _, m := range cluster.members {
			labels[m.paperID] = label
			anchors = append(anchors, types.CitationAnchor{
				PaperID:     m.paperID,
				Section:     "abstract",
				CharStart:   m.start,
				CharEnd:     m.end,
				SnippetHash: snippetHash(m.text),
			})
		}
		sentences = append(sentences, types.ClaimSentence{
			Text:      cluster.members[0].text,
			Stance:    dispositionStance(label),
			Citations: anchors,
		})
	}
	return sentences, labels
}
