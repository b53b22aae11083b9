// Package keyword turns a free-text tag into the set of searchable sub-keys
// used for fuzzy recall. Derivation is deterministic and inspects only the
// key, never the payload, so deriving once at write time is sufficient:
// lookups match literal stored key strings.
package keyword

import (
	"sort"
	"strings"

	"github.com/kljensen/snowball/english"
)

// Derived is a surviving token paired with its stemmed form.
type Derived struct {
	Original string
	Stemmed  string
}

// Derive extracts derived keys from a raw tag.
//
// The input is lower-cased and split on whitespace. Each token is stripped of
// apostrophes and question marks, then expanded into the whole token plus its
// hyphen-separated parts. Candidates found in the stopword table, along with
// single-character noise, are discarded; survivors are stemmed with the
// English Snowball stemmer. Pairs are deduplicated as pairs: two words that
// stem to the same root both survive under their own original form.
//
// The absolute key itself is never part of the result; callers prepend it.
// An all-stopword tag derives to an empty set.
func Derive(rawKey string) []Derived {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(rawKey)) {
		tokens[t] = struct{}{}
	}

	pairs := make(map[Derived]struct{})
	for t := range tokens {
		for _, c := range expand(t) {
			if isStopword(c) {
				continue
			}
			pairs[Derived{Original: c, Stemmed: english.Stem(c, true)}] = struct{}{}
		}
	}

	out := make([]Derived, 0, len(pairs))
	for p := range pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Original != out[j].Original {
			return out[i].Original < out[j].Original
		}
		return out[i].Stemmed < out[j].Stemmed
	})
	return out
}

// Originals returns the original-form tokens of the derived set, in order.
func Originals(derived []Derived) []string {
	out := make([]string, len(derived))
	for i, d := range derived {
		out[i] = d.Original
	}
	return out
}

// Stems returns the stemmed tokens of the derived set, in order.
func Stems(derived []Derived) []string {
	out := make([]string, len(derived))
	for i, d := range derived {
		out[i] = d.Stemmed
	}
	return out
}

// expand strips punctuation noise and splits a token on internal hyphens.
// The unhyphenated whole token and each part are independent candidates, so
// "mid-day" yields "mid-day", "mid" and "day".
func expand(token string) []string {
	token = strings.NewReplacer("'", "", "?", "").Replace(token)
	if token == "" {
		return nil
	}
	candidates := []string{token}
	if strings.Contains(token, "-") {
		for _, part := range strings.Split(token, "-") {
			if part != "" {
				candidates = append(candidates, part)
			}
		}
	}
	return candidates
}

// isStopword reports whether a candidate carries no search value: a common
// English function word or single-character noise.
func isStopword(candidate string) bool {
	if len(candidate) <= 1 {
		return true
	}
	_, ok := stopwords[candidate]
	return ok
}
