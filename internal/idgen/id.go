package idgen

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// encodeBase36 converts a byte slice into a base36 string of exactly length
// characters, truncating to the least-significant digits if the natural
// encoding is longer and left-padding with zeros if it is shorter. Used
// here for the short, grep-friendly content-derived paper_id.
func encodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}
	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// PaperID derives the stable canonical-paper identifier from its merge seed:
// "paper_" || hash(DOI || PMID || arXiv || title|year|authors[0:2]). Stable
// under input reordering because the caller is responsible for passing the
// already-normalized seed components in a fixed order.
func PaperID(seed string) string {
	return "paper_" + encodeBase36([]byte(HashString(seed)), 16)
}

// NewUUID returns a fresh random identifier for entities that have no
// natural content hash of their own (reports, jobs, stage outputs, runs).
func NewUUID() string {
	return uuid.NewString()
}

// WithPrefix formats a prefixed identifier, e.g. WithPrefix("report", id).
func WithPrefix(prefix, id string) string {
	return fmt.Sprintf("%s_%s", prefix, id)
}
