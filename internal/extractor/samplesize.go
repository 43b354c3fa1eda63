package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	minSampleSize = 2
	maxSampleSize = 10_000_000
)

var sampleSizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bn\s*=\s*([\d,]+)\b`),
	regexp.MustCompile(`(?i)\b([\d,]+)\s+(?:participants|patients|subjects|adults|children|women|men|volunteers|individuals)\b`),
}

// extractSampleSize returns the first in-range count matched by the n= or
// "N participants" family of patterns, checked in that priority order.
func extractSampleSize(text string) *int {
	for _, re := range sampleSizePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil || n < minSampleSize || n > maxSampleSize {
			continue
		}
		result := n
		return &result
	}
	return nil
}
