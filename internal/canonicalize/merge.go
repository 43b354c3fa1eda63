package canonicalize

import (
	"sort"
	"strconv"

	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const (
	titleJaccardThreshold  = 0.78
	authorJaccardThreshold = 0.2
	maxYearDelta           = 1
)

// sameCandidate reports whether two raw candidates should merge: a shared
// non-empty normalized DOI/PMID/arXiv id takes priority; otherwise the
// title/author/year fallback applies.
func sameCandidate(a, b types.UnifiedPaper) bool {
	if d1, d2 := NormalizeDOI(a.DOI), NormalizeDOI(b.DOI); d1 != "" && d1 == d2 {
		return true
	}
	if p1, p2 := NormalizePMID(a.PubmedID), NormalizePMID(b.PubmedID); p1 != "" && p1 == p2 {
		return true
	}
	if x1, x2 := NormalizeArxivID(a.ArxivID), NormalizeArxivID(b.ArxivID); x1 != "" && x1 == x2 {
		return true
	}
	yearDelta := a.Year - b.Year
	if yearDelta < 0 {
		yearDelta = -yearDelta
	}
	if yearDelta > maxYearDelta {
		return false
	}
	return titleJaccard(a.Title, b.Title) >= titleJaccardThreshold &&
		authorTokenJaccard(a.Authors, b.Authors) >= authorJaccardThreshold
}

// clusterCandidates groups papers into disjoint merge clusters, returning
// index groups whose members are sorted ascending. The order of the groups
// themselves is not defined; Canonicalize sorts its output by paper_id.
func clusterCandidates(papers []types.UnifiedPaper) [][]int {
	n := len(papers)
	ds := newDisjointSet(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sameCandidate(papers[i], papers[j]) {
				ds.union(i, j)
			}
		}
	}
	groups := ds.groups(n)
	for _, g := range groups {
		sort.Ints(g)
	}
	return groups
}

// representativeOrder ranks cluster members by trust descending, breaking
// ties by source name then raw id, so "fill if empty" and single-valued
// fields (title, year, abstract) resolve deterministically regardless of
// the order papers were ingested in.
func representativeOrder(papers []types.UnifiedPaper) []types.UnifiedPaper {
	out := make([]types.UnifiedPaper, len(papers))
	copy(out, papers)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := trustFor(out[i].Source), trustFor(out[j].Source)
		if ti != tj {
			return ti > tj
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// buildCanonical merges one cluster of raw candidates into a CanonicalPaper.
func buildCanonical(papers []types.UnifiedPaper) types.CanonicalPaper {
	ranked := representativeOrder(papers)
	lead := ranked[0]

	out := types.CanonicalPaper{
		Title:    lead.Title,
		Year:     lead.Year,
		Authors:  lead.Authors,
		Venue:    lead.Venue,
		Abstract: lead.Abstract,
	}

	referenced := make(map[string]struct{})
	provenance := make([]types.ProvenanceEntry, 0, len(ranked))

	for _, p := range ranked {
		if out.DOI == "" && p.DOI != "" {
			out.DOI = NormalizeDOI(p.DOI)
		}
		if out.PubmedID == "" && p.PubmedID != "" {
			out.PubmedID = NormalizePMID(p.PubmedID)
		}
		if out.OpenAlexID == "" && p.OpenAlexID != "" {
			out.OpenAlexID = p.OpenAlexID
		}
		if out.ArxivID == "" && p.ArxivID != "" {
			out.ArxivID = NormalizeArxivID(p.ArxivID)
		}
		if out.Title == "" {
			out.Title = p.Title
		}
		if out.Abstract == "" {
			out.Abstract = p.Abstract
		}
		if out.Venue == "" {
			out.Venue = p.Venue
		}
		if out.PDFURL == "" && p.PDFURL != "" {
			out.PDFURL = p.PDFURL
		}
		if out.LandingPageURL == "" && p.LandingPageURL != "" {
			out.LandingPageURL = p.LandingPageURL
		}

		trust := trustFor(p.Source)
		if trust > out.SourceConfidence {
			out.SourceConfidence = trust
		}
		out.RelevanceScore += p.RankSignal * trust
		if p.CitationCount > out.CitationCount {
			out.CitationCount = p.CitationCount
		}
		for _, ref := range p.References {
			referenced[ref] = struct{}{}
		}
		out.IsRetracted = out.IsRetracted || p.IsRetracted
		out.IsPreprint = out.IsPreprint || p.PreprintStatus == "preprint"

		provenance = append(provenance, types.ProvenanceEntry{
			Source:             p.Source,
			RankSignal:         p.RankSignal,
			MetadataConfidence: trust,
		})
	}

	if len(referenced) > 0 {
		refs := make([]string, 0, len(referenced))
		for r := range referenced {
			refs = append(refs, r)
		}
		sort.Strings(refs)
		out.ReferencedIDs = refs
	}
	sort.SliceStable(provenance, func(i, j int) bool {
		return provenance[i].Source < provenance[j].Source
	})
	out.Provenance = provenance

	out.MethodsPresent = methodsPresent(out.Abstract)
	out.StudyDesignHint = studyDesignHint(out.Title, out.Abstract)

	seed := out.DOI + "|" + out.PubmedID + "|" + out.ArxivID + "|" + titleYearAuthorsSeed(out)
	out.PaperID = idgen.PaperID(seed)

	return out
}

func titleYearAuthorsSeed(p types.CanonicalPaper) string {
	authors := p.Authors
	if len(authors) > 2 {
		authors = authors[:2]
	}
	seed := NormalizeTitle(p.Title) + "|" + strconv.Itoa(p.Year)
	for _, a := range authors {
		seed += "|" + a
	}
	return seed
}
