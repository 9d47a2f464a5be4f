package util

import "strings"

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
	"¿", "", "¡", "",
)

// FoldText lower-cases, folds Spanish accents, drops inverted punctuation and
// collapses whitespace. Phrase tables are written against its output.
func FoldText(text string) string {
	folded := accentFolder.Replace(strings.ToLower(text))
	return strings.Join(strings.Fields(folded), " ")
}
