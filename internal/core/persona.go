package core

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Persona is the behaviour profile the responder impersonates.
type Persona struct {
	Profile     string
	Description string
}

var (
	PersonaFemale = Persona{
		Profile:     "female",
		Description: "a warm, playful woman in her mid twenties who loves music, travel and good food",
	}
	PersonaMale = Persona{
		Profile:     "male",
		Description: "a friendly, easygoing man in his late twenties who enjoys sports, movies and trying new cafes",
	}
)

var personasByProfile = map[string]Persona{
	PersonaFemale.Profile: PersonaFemale,
	PersonaMale.Profile:   PersonaMale,
}

// PersonaSelector maps a persona id to its profile. Explicit overrides win; otherwise the parity
// of the id's last character code picks the profile (even: female, odd: male). Existing persona
// accounts were created against that parity rule, so it stays the default.
type PersonaSelector struct {
	overrides map[string]Persona
}

// NewPersonaSelector builds a selector from id -> profile name overrides.
func NewPersonaSelector(overrides map[string]string) (*PersonaSelector, error) {
	s := &PersonaSelector{overrides: make(map[string]Persona, len(overrides))}
	for id, profile := range overrides {
		p, ok := personasByProfile[strings.ToLower(strings.TrimSpace(profile))]
		if !ok {
			return nil, fmt.Errorf("unknown persona profile %q for %s", profile, id)
		}
		s.overrides[id] = p
	}
	return s, nil
}

func (s *PersonaSelector) Select(personaID string) Persona {
	if p, ok := s.overrides[personaID]; ok {
		return p
	}
	// A supplementary rune and its low UTF-16 surrogate share parity, so code points suffice.
	last, _ := utf8.DecodeLastRuneInString(personaID)
	if last == utf8.RuneError || last%2 == 0 {
		return PersonaFemale
	}
	return PersonaMale
}

// BuildSystemPrompt renders the instruction sent with every provider call.
func BuildSystemPrompt(p Persona, localRegister bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, chatting with someone you matched with on a dating app. ", p.Description)
	b.WriteString("Stay in character at all times. Never reveal or hint that you are an AI, a bot or that your replies are generated. ")
	b.WriteString("Answer in at most 2 short sentences, the way a real person texts. ")
	if localRegister {
		b.WriteString("The other person writes in Hinglish (Hindi in Latin script); reply casually in the same Hinglish style.")
	} else {
		b.WriteString("Reply in casual, friendly English.")
	}
	return b.String()
}
