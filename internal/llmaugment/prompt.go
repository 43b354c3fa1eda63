package llmaugment

import "github.com/corpuspipe/corpuspipe/internal/idgen"

// promptTemplate is the locked-baseline augmentation prompt. It is never
// parameterized per-report (only the batch of studies appended after it
// varies) so its hash is stable across runs of the same pipeline version.
const promptTemplate = `You are filling in missing fields for a set of already-extracted research
studies. Each study below was produced by a deterministic rule-based
extractor and may have null or empty fields.

Rules:
- You may ONLY fill fields that are currently null or empty.
- Never change study_id, title, year, study_design, or the order/count of
  outcomes for any study.
- Fillable study fields: sample_size, population, citation_count, pdf_url,
  landing_page_url, citation.doi, citation.pubmed_id, citation.openalex_id.
- Fillable per-outcome fields (matched by position): key_result,
  intervention, comparator, effect_size, p_value.
- If you cannot confidently fill a field, leave it null. Never guess.
- Return ONLY a JSON array matching the schema you were given, with one
  object per input study_id, in the same order. No prose, no markdown.

Studies:
`

// PromptHash identifies the locked-baseline prompt for the extraction
// cache key's prompt_hash component.
var PromptHash = idgen.HashString(promptTemplate)
