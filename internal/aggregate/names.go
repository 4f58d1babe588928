package aggregate

import (
	"strings"
	"unicode"
)

// Identifier folds a display name into a lower-case database identifier made
// of letters, digits and single underscores.
func Identifier(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ColumnNames maps header cells to column names: "Region Code" -> region_code, "7" -> day_7.
func ColumnNames(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		name := Identifier(h)
		if name != "" && unicode.IsDigit(rune(name[0])) {
			name = "day_" + name
		}
		cols[i] = name
	}
	return cols
}
