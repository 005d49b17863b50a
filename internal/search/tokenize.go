package search

import "strings"

// tokenize splits text on non-alphanumeric boundaries after lowercasing.
// No stemming. CJK runs additionally emit 2- and 3-grams so queries in
// those scripts can match without word boundaries.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= '0' && r <= '9' {
			return false
		}
		// Keep CJK characters as part of tokens by treating them as non-separators.
		if r >= 0x4E00 && r <= 0x9FFF {
			return false
		}
		return true
	})

	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed == "" {
			continue
		}
		terms = append(terms, trimmed)
		terms = append(terms, cjkNGrams(trimmed, 2, 3)...)
	}
	return terms
}

func cjkNGrams(token string, minN, maxN int) []string {
	if token == "" || minN <= 0 || maxN < minN {
		return nil
	}
	runes := []rune(token)
	if len(runes) < minN {
		return nil
	}

	const maxGenerated = 128
	out := make([]string, 0, 16)
	start := -1

	flush := func(end int) {
		if start < 0 || end <= start {
			return
		}
		segment := runes[start:end]
		for n := minN; n <= maxN; n++ {
			if len(segment) < n {
				break
			}
			for i := 0; i+n <= len(segment); i++ {
				if len(out) >= maxGenerated {
					return
				}
				out = append(out, string(segment[i:i+n]))
			}
		}
	}

	for i, r := range runes {
		if r >= 0x4E00 && r <= 0x9FFF {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		start = -1
	}
	flush(len(runes))
	return out
}
