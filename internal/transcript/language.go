// Package transcript turns the agent's event stream into session records.
//
// [Recorder] consumes [agent.Event]s in order and appends finished turns to
// a [session.Session], tagging each with a language code from a
// [LanguageTagger]. Mode changes and transport errors are never recorded;
// they are counted and forwarded to an optional observer.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/visacoach/internal/session"
	"github.com/antzucaro/matchr"
)

// LanguageTagger assigns a language code to a transcript line.
// Implementations must be safe for concurrent use.
type LanguageTagger interface {
	Tag(text string) string
}

// TaggerFunc adapts a function to [LanguageTagger].
type TaggerFunc func(text string) string

// Tag calls f.
func (f TaggerFunc) Tag(text string) string { return f(text) }

// EnglishOnly tags every line as English.
var EnglishOnly LanguageTagger = TaggerFunc(func(string) string { return session.LanguageEnglish })

// ── Hinglish detection ─────────────────────────────────────────────────────────

const (
	defaultHindiRatio      = 0.4
	defaultSimilarity      = 0.9
	minFuzzyTokenLen       = 4
	devanagariMajorityFrac = 0.5
)

// defaultLexicon holds common romanised Hindi words that rarely occur in
// English answers.
var defaultLexicon = []string{
	"hai", "hain", "hoon", "hun", "nahi", "nahin", "kya", "kyun", "kyunki",
	"kaise", "mera", "meri", "mere", "mujhe", "hum", "humara", "haan", "aur",
	"lekin", "ka", "ki", "ke", "ko", "se", "bhi", "toh", "yeh", "woh", "mein",
	"padhai", "padhna", "paisa", "paise", "wapas", "wapis", "ghar", "naukri",
	"karna", "karunga", "karungi", "chahta", "chahti", "accha", "theek",
	"samajh", "parivar", "saal", "baad", "desh", "videsh", "pitaji", "mataji",
}

// TaggerOption configures a [HinglishTagger].
type TaggerOption func(*HinglishTagger)

// WithLexicon replaces the romanised Hindi word list.
func WithLexicon(words ...string) TaggerOption {
	return func(h *HinglishTagger) { h.lexicon = words }
}

// WithHindiRatio sets the share of Hindi tokens at which a line counts as
// Hindi. Default: 0.4.
func WithHindiRatio(r float64) TaggerOption {
	return func(h *HinglishTagger) {
		if r > 0 && r <= 1 {
			h.ratio = r
		}
	}
}

// WithSimilarity sets the Jaro-Winkler score a misspelt token needs to count
// as a lexicon word. Default: 0.9.
func WithSimilarity(s float64) TaggerOption {
	return func(h *HinglishTagger) {
		if s > 0 && s <= 1 {
			h.similarity = s
		}
	}
}

// HinglishTagger tags a line "hi" when it is mostly Devanagari, or when
// enough of its Latin tokens are romanised Hindi. Speech recognisers spell
// romanised Hindi inconsistently, so tokens that miss the lexicon are matched
// phonetically (Double Metaphone) and ranked by Jaro-Winkler similarity.
//
// Read-only after construction.
type HinglishTagger struct {
	lexicon    []string
	words      map[string]struct{}
	codes      map[string][]string
	ratio      float64
	similarity float64
}

var _ LanguageTagger = (*HinglishTagger)(nil)

// NewHinglishTagger returns a tagger using the built-in lexicon unless
// [WithLexicon] is given.
func NewHinglishTagger(opts ...TaggerOption) *HinglishTagger {
	h := &HinglishTagger{
		lexicon:    defaultLexicon,
		ratio:      defaultHindiRatio,
		similarity: defaultSimilarity,
	}
	for _, o := range opts {
		o(h)
	}

	h.words = make(map[string]struct{}, len(h.lexicon))
	h.codes = make(map[string][]string, len(h.lexicon))
	for _, w := range h.lexicon {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		h.words[w] = struct{}{}
		for _, c := range metaphone(w) {
			h.codes[c] = append(h.codes[c], w)
		}
	}
	return h
}

// Tag returns [session.LanguageHindi] or [session.LanguageEnglish].
func (h *HinglishTagger) Tag(text string) string {
	var letters, devanagari int
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Devanagari, r) {
			devanagari++
		}
	}
	if letters == 0 {
		return session.LanguageEnglish
	}
	if float64(devanagari) >= devanagariMajorityFrac*float64(letters) {
		return session.LanguageHindi
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.In(r, unicode.Latin)
	})
	if len(tokens) == 0 {
		return session.LanguageEnglish
	}
	hindi := 0
	for _, tok := range tokens {
		if h.isHindi(tok) {
			hindi++
		}
	}
	if hindi > 0 && float64(hindi) >= h.ratio*float64(len(tokens)) {
		return session.LanguageHindi
	}
	return session.LanguageEnglish
}

func (h *HinglishTagger) isHindi(tok string) bool {
	if _, ok := h.words[tok]; ok {
		return true
	}
	if len(tok) < minFuzzyTokenLen {
		return false
	}
	for _, c := range metaphone(tok) {
		for _, cand := range h.codes[c] {
			if matchr.JaroWinkler(tok, cand, false) >= h.similarity {
				return true
			}
		}
	}
	return false
}

// metaphone returns the non-empty, distinct Double Metaphone codes of w.
func metaphone(w string) []string {
	p, s := matchr.DoubleMetaphone(w)
	switch {
	case p == "" && s == "":
		return nil
	case s == "" || s == p:
		return []string{p}
	case p == "":
		return []string{s}
	}
	return []string{p, s}
}
