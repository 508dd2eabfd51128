package core

import (
	"strings"
	"unicode"
)

// DefaultLocalKeywords are romanised Hindi words whose presence selects the Hinglish register.
var DefaultLocalKeywords = []string{
	"kaise", "kaisi", "kya", "hai", "haan", "nahi", "nahin", "accha", "acha", "achha",
	"tum", "aap", "kyun", "mera", "meri", "tera", "teri", "yaar", "theek", "thik",
	"hoon", "bahut", "kuch", "kab", "kahan", "abhi", "bohot", "matlab",
}

const (
	FallbackEnglish = "Hey! Sorry, I'm a little busy right now. I'll text you back soon 😊"
	FallbackLocal   = "Hey! Sorry, abhi thoda busy hoon. Thodi der mein baat karte hain 😊"
)

// LanguageDetector decides which register a message is written in from a keyword list.
type LanguageDetector struct {
	keywords map[string]struct{}
}

func NewLanguageDetector(keywords []string) *LanguageDetector {
	if len(keywords) == 0 {
		keywords = DefaultLocalKeywords
	}
	d := &LanguageDetector{keywords: make(map[string]struct{}, len(keywords))}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			d.keywords[k] = struct{}{}
		}
	}
	return d
}

// IsLocal reports whether any word of text is a configured keyword. Matching is on whole words
// so "hair" does not trip "hai".
func (d *LanguageDetector) IsLocal(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := d.keywords[w]; ok {
			return true
		}
	}
	return false
}

// Fallback picks the scripted reply matching the register of text.
func (d *LanguageDetector) Fallback(text string) string {
	if d.IsLocal(text) {
		return FallbackLocal
	}
	return FallbackEnglish
}
