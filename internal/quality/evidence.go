package quality

import "github.com/corpuspipe/corpuspipe/internal/types"

const abstractSnippetMaxLen = 240

// BuildEvidenceTable ranks kept papers (already sorted by Filter) into up
// to maxRows EvidenceRows, attaching each paper's proposition label from
// the brief's claim clusters when it contributed a sentence to one.
func BuildEvidenceTable(kept []types.CanonicalPaper, maxRows int, propositionLabels map[string]string) []types.EvidenceRow {
	if maxRows <= 0 || maxRows > len(kept) {
		maxRows = len(kept)
	}
	rows := make([]types.EvidenceRow, 0, maxRows)
	for i := 0; i < maxRows; i++ {
		p := kept[i]
		rows = append(rows, types.EvidenceRow{
			Rank:             i + 1,
			PaperID:          p.PaperID,
			AbstractSnippet:  truncate(p.Abstract, abstractSnippetMaxLen),
			PropositionLabel: propositionLabels[p.PaperID],
			Quality:          p.Quality,
			Provenance:       p.Provenance,
		})
	}
	return rows
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
