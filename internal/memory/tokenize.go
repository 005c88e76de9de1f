package memory

import "strings"

// tokenize lowercases and splits text on anything that isn't an ASCII
// letter or digit (a-z, 0-9), dropping empty tokens. Shared by the hash embedder and the
// BM25 index so both see the same notion of a term.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
	return fields
}
