// Package intent classifies short free-text replies into booking intents
// using fixed keyword sets.
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Intent string

const (
	None       Intent = ""
	Confirm    Intent = "confirm"
	Reschedule Intent = "reschedule"
	Cancel     Intent = "cancel"
)

type keywordSet struct {
	intent Intent
	words  []string
}

// Order matters: the first set with a match wins.
var keywordSets = []keywordSet{
	{
		intent: Confirm,
		words:  []string{"confirmar", "confirm", "si", "yes", "ok"},
	},
	{
		intent: Reschedule,
		words:  []string{"reprogramar", "reschedule", "otro", "cambiar"},
	},
	{
		intent: Cancel,
		words:  []string{"cancelar", "cancel", "no"},
	},
}

// Classify returns the intent of text, or None when nothing matches.
// Matching is on whole words, case and accent insensitive.
func Classify(text string) Intent {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return None
	}
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}

	for _, set := range keywordSets {
		for _, w := range set.words {
			if _, ok := present[w]; ok {
				return set.intent
			}
		}
	}
	return None
}

// Tokenize lowercases text, strips diacritics and splits on anything that is
// not a letter or digit.
func Tokenize(text string) []string {
	// transform chains carry state; each call gets its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
