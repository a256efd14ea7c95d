package dispatch

import (
	"strings"
	"unicode"
)

// stripped lists the punctuation removed from every word.
const stripped = ".,!?"

// Input is a tokenized user message that still knows where each token came
// from in the raw text.
type Input struct {
	Raw    string
	Tokens []string
	ends   []int // byte offset in Raw just past the word that produced Tokens[i]
}

// Tokenize splits input on whitespace, removes . , ! ? from each word,
// lower-cases it and drops words that end up empty.
func Tokenize(input string) []string {
	return Split(input).Tokens
}

// Split tokenizes input like Tokenize and keeps the offsets needed by Remainder.
func Split(input string) Input {
	in := Input{Raw: input}
	start := -1
	for i, r := range input {
		if unicode.IsSpace(r) {
			if start >= 0 {
				in.add(input[start:i], i)
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		in.add(input[start:], len(input))
	}
	return in
}

func (in *Input) add(word string, end int) {
	tok := normalize(word)
	if tok == "" {
		return
	}
	in.Tokens = append(in.Tokens, tok)
	in.ends = append(in.ends, end)
}

// Remainder returns the raw text following token i, trimmed. It is empty for
// the last token and for out-of-range indexes.
func (in Input) Remainder(i int) string {
	if i < 0 || i >= len(in.ends) {
		return ""
	}
	return strings.TrimSpace(in.Raw[in.ends[i]:])
}

func normalize(word string) string {
	word = strings.Map(func(r rune) rune {
		if strings.ContainsRune(stripped, r) {
			return -1
		}
		return r
	}, word)
	return strings.ToLower(word)
}
