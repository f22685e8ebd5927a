package utils

import (
	"strings"
	"unicode"
)

// MinLegiblePlateLength is the shortest OCR reading accepted as a plate.
const MinLegiblePlateLength = 4

// NormalizePlate upper-cases a raw plate reading and strips everything
// that is not a letter or digit.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func IsLegiblePlate(normalized string) bool {
	return len([]rune(normalized)) >= MinLegiblePlateLength
}
