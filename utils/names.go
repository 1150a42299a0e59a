package utils

import (
	"strings"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a participant name into a comparable form: NFC
// normalization, ASCII transliteration, lowercasing and whitespace collapse.
// The conferencing provider reports whatever display name the participant
// joined with, so matching has to tolerate case, accents and stray spaces.
func NormalizeName(name string) string {
	s := norm.NFC.String(name)
	s = unidecode.Unidecode(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// NamesMatch compares two already normalized names, tolerating one side
// carrying extra words (patronymics, decorations around the display name).
func NamesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
