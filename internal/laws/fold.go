package laws

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the Unicode case-folded form used by every text match. Stored
// search columns and query terms must both pass through it.
func Fold(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}
