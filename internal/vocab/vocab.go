// Package vocab corrects domain terms that speech-to-text backends tend to
// mishear. A configured vocabulary ("Grafana", "time series", ...) is
// matched against transcript tokens using Double Metaphone phonetic
// encoding combined with Jaro-Winkler similarity; confident matches replace
// the misheard tokens with the vocabulary's canonical spelling.
//
// The algorithm proceeds in two stages per token window:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the window and for each vocabulary term. A term whose codes overlap
//     the window's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest similarity wins, provided it clears the phonetic threshold
//     (default 0.70). When no phonetic candidate exists, a pure-similarity
//     fallback applies with a stricter threshold (default 0.85).
//
// Multi-word terms are supported through n-gram windows: at each position
// the longest matching window wins, so "time serious" aligns with
// "time series" before "serious" is considered on its own.
//
// Correction is pure CPU work with no I/O; a Corrector is read-only after
// construction and safe for concurrent use.
package vocab

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one replacement made by [Corrector.Correct].
type Correction struct {
	// Original is the transcript window that was replaced.
	Original string

	// Corrected is the canonical vocabulary term that replaced it.
	Corrected string

	// Confidence is the Jaro-Winkler score of the accepted match.
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and matching falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// term is one vocabulary entry with its matching data precomputed.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector replaces misheard vocabulary terms in transcripts. Vocabulary
// preparation (tokenisation, phonetic codes) happens once at construction.
type Corrector struct {
	terms             []term
	maxTermWords      int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a [Corrector] for the given vocabulary. Blank entries are
// ignored; term order is irrelevant. An empty vocabulary yields a corrector
// that returns every transcript unchanged.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	for _, v := range vocabulary {
		canonical := strings.TrimSpace(v)
		if canonical == "" {
			continue
		}
		lower := strings.ToLower(canonical)
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			canonical: canonical,
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > c.maxTermWords {
			c.maxTermWords = len(tokens)
		}
	}
	return c
}

// Correct scans the transcript for misheard vocabulary terms and returns the
// corrected text plus the corrections applied, in transcript order. Windows
// that already spell a term (ignoring case) are normalised to the canonical
// spelling without being reported as corrections.
func (c *Corrector) Correct(transcript string) (string, []Correction) {
	tokens := strings.Fields(transcript)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return transcript, nil
	}

	// Phonetic codes per transcript token, computed once.
	tokenCodes := make([][2]string, len(tokens))
	for i, t := range tokens {
		p, s := matchr.DoubleMetaphone(strings.ToLower(t))
		tokenCodes[i] = [2]string{p, s}
	}

	var (
		output      []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		maxN := c.maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		consumed := 0
		for n := maxN; n >= 1; n-- {
			window := strings.ToLower(strings.Join(tokens[i:i+n], " "))
			match, score, ok := c.match(window, tokenCodes[i:i+n])
			if !ok {
				continue
			}

			output = append(output, strings.Fields(match.canonical)...)
			if window != match.lower {
				corrections = append(corrections, Correction{
					Original:   strings.Join(tokens[i:i+n], " "),
					Corrected:  match.canonical,
					Confidence: score,
				})
			}
			consumed = n
			break
		}

		if consumed == 0 {
			output = append(output, tokens[i])
			i++
		} else {
			i += consumed
		}
	}

	return strings.Join(output, " "), corrections
}

// match finds the vocabulary term most similar to the window, preferring
// phonetic candidates over fuzzy ones.
func (c *Corrector) match(window string, windowCodes [][2]string) (*term, float64, bool) {
	windowTokens := strings.Fields(window)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)

	for idx := range c.terms {
		t := &c.terms[idx]

		phonetic := codesOverlap(windowCodes, t.codes)
		score := bestJWScore(windowTokens, t.tokens, window, t.lower)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = t, score, true
			}
		case !phonetic && !bestPhonetic && score >= c.fuzzyThreshold:
			if score > bestScore {
				best, bestScore = t, score
			}
		}
	}

	if best == nil {
		return nil, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (short or consonant-free words) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether any window token code appears in the term's
// code set.
func codesOverlap(windowCodes [][2]string, termCodes map[string]struct{}) bool {
	for _, pair := range windowCodes {
		for _, code := range pair {
			if code == "" {
				continue
			}
			if _, ok := termCodes[code]; ok {
				return true
			}
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// window and the term using three strategies: full strings, space-stripped
// strings, and the best pairwise token score. The multi-strategy comparison
// keeps multi-word terms matchable when the backend splits or merges words.
func bestJWScore(windowTokens, termTokens []string, windowFull, termFull string) float64 {
	score := matchr.JaroWinkler(windowFull, termFull, false)

	if len(windowTokens) > 1 || len(termTokens) > 1 {
		concatW := strings.Join(windowTokens, "")
		concatT := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concatW, concatT, false); s > score {
			score = s
		}
	}

	for _, wt := range windowTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(wt, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
