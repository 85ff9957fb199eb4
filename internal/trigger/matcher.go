// Package trigger keeps speech recognition armed while the app is in the
// foreground and raises an SOS when the user speaks a trigger phrase.
package trigger

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// VocabularyVersion identifies the built-in phrase list. Bump it whenever
// [Vocabulary] changes. It is reported in [State] and on every detection.
const VocabularyVersion = 1

var vocabulary = []string{
	"help",
	"sos",
	"emergency",
	"save me",
	"help me",
	"emergency help",
	"sos help",
}

// Vocabulary returns a copy of the built-in trigger phrases in match order.
func Vocabulary() []string {
	return append([]string(nil), vocabulary...)
}

const defaultPhoneticThreshold = 0.85

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// withPhrases replaces the trigger phrases. Order decides which phrase is
// reported when several match.
func withPhrases(phrases []string) MatcherOption {
	return func(m *Matcher) {
		m.phrases = m.phrases[:0]
		for _, p := range phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				m.phrases = append(m.phrases, p)
			}
		}
	}
}

// WithPhonetic enables a sound-alike fallback for transcripts that contain
// no phrase verbatim. A window of words matches a phrase when their Double
// Metaphone codes agree and their Jaro-Winkler similarity reaches threshold.
// A threshold <= 0 selects 0.85.
func WithPhonetic(threshold float64) MatcherOption {
	return func(m *Matcher) {
		if threshold <= 0 {
			threshold = defaultPhoneticThreshold
		}
		m.phonetic = true
		m.threshold = threshold
	}
}

// Matcher finds trigger phrases in transcripts. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phrases   []string
	phonetic  bool
	threshold float64
}

// NewMatcher returns a Matcher over [Vocabulary].
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{phrases: Vocabulary()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Phrases returns the phrases the matcher looks for.
func (m *Matcher) Phrases() []string {
	return append([]string(nil), m.phrases...)
}

// Match reports the first phrase contained in text, compared
// case-insensitively.
func (m *Matcher) Match(text string) (phrase string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, p := range m.phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	if m.phonetic {
		return m.matchPhonetic(strings.Fields(lower))
	}
	return "", false
}

func (m *Matcher) matchPhonetic(words []string) (string, bool) {
	for _, p := range m.phrases {
		target := strings.Fields(p)
		n := len(target)
		for i := 0; i+n <= len(words); i++ {
			window := words[i : i+n]
			if !soundsAlike(window, target) {
				continue
			}
			if matchr.JaroWinkler(strings.Join(window, " "), p, false) >= m.threshold {
				return p, true
			}
		}
	}
	return "", false
}

// soundsAlike reports whether every word shares a Double Metaphone code
// with its counterpart.
func soundsAlike(a, b []string) bool {
	for i := range a {
		ap, as := matchr.DoubleMetaphone(a[i])
		bp, bs := matchr.DoubleMetaphone(b[i])
		if ap == "" || bp == "" {
			return false
		}
		if ap != bp && ap != bs && (as == "" || (as != bp && as != bs)) {
			return false
		}
	}
	return true
}
