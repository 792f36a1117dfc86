package moderation

import (
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator censors forbidden words in message content before it is
// persisted. Matching runs on a normalized view of the text (lowercased,
// leet speak folded, punctuation and spacing ignored) while the replacement
// is applied to the original runes, so spacing and case around a match are
// preserved.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// leet maps common substitution characters back to the letter they stand for.
var leet = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
}

// NewModerator builds the Aho-Corasick automaton from the censored word list.
func NewModerator(censoredWords []string, replacement rune) (Moderator, error) {
	patterns := make([][]rune, len(censoredWords))
	for i, word := range censoredWords {
		patterns[i], _ = normalize([]rune(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return Moderator{}, err
	}
	return Moderator{matcher: m, replacement: replacement}, nil
}

// Censor replaces every forbidden pattern in the input with the replacement
// rune and reports the normalized words that were found.
func (m *Moderator) Censor(original string) (string, []string) {
	origRunes := []rune(original)
	normalized, origIdx := normalize(origRunes)
	if len(normalized) == 0 {
		return original, nil
	}

	spans := m.matcher.MultiPatternSearch(normalized, false)
	if len(spans) == 0 {
		return original, nil
	}

	var found []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(origIdx) {
			continue
		}
		found = append(found, string(span.Word))

		origStart := origIdx[normStart]
		origEnd := origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.replacement
		}
	}

	return string(origRunes), found
}

// Language returns the ISO 639-1 code of the detected content language, or
// an empty string when detection is inconclusive.
func Language(content string) string {
	info := whatlanggo.Detect(content)
	return info.Lang.Iso6391()
}

// normalize lowercases the input, folds leet speak and drops noise runes,
// keeping a mapping from normalized positions back to original indices.
func normalize(input []rune) ([]rune, []int) {
	norm := make([]rune, 0, len(input))
	origIdx := make([]int, 0, len(input))
	for i, r := range input {
		if folded, ok := leet[r]; ok {
			r = folded
		}
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		norm = append(norm, unicode.ToLower(r))
		origIdx = append(origIdx, i)
	}
	return norm, origIdx
}
