package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonaSelectByParity(t *testing.T) {
	s, err := NewPersonaSelector(nil)
	require.NoError(t, err)

	tests := []struct {
		id   string
		want Persona
	}{
		{"65f1c0a2", PersonaFemale}, // '2' = 50
		{"65f1c0a3", PersonaMale},   // '3' = 51
		{"abc", PersonaMale},        // 'c' = 99
		{"abd", PersonaFemale},      // 'd' = 100
		{"", PersonaFemale},
		{"persona-\U0001F600", PersonaFemale}, // low surrogate 0xDE00
		{"persona-\U0001F601", PersonaMale},   // low surrogate 0xDE01
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Select(tt.id), "id %q", tt.id)
	}
}

func TestPersonaSelectIsDeterministic(t *testing.T) {
	s, err := NewPersonaSelector(nil)
	require.NoError(t, err)

	for _, id := range []string{"a1", "b2", "persona-x", "ü"} {
		assert.Equal(t, s.Select(id), s.Select(id))
	}
}

func TestPersonaOverridesWin(t *testing.T) {
	s, err := NewPersonaSelector(map[string]string{"65f1c0a2": "Male", "65f1c0a3": " female "})
	require.NoError(t, err)

	assert.Equal(t, PersonaMale, s.Select("65f1c0a2"))
	assert.Equal(t, PersonaFemale, s.Select("65f1c0a3"))
	assert.Equal(t, PersonaMale, s.Select("65f1c0a5"))
}

func TestPersonaUnknownOverrideProfile(t *testing.T) {
	_, err := NewPersonaSelector(map[string]string{"p1": "robot"})
	assert.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	english := BuildSystemPrompt(PersonaFemale, false)
	assert.Contains(t, english, PersonaFemale.Description)
	assert.Contains(t, english, "English")
	assert.Contains(t, english, "Never reveal")

	local := BuildSystemPrompt(PersonaMale, true)
	assert.Contains(t, local, PersonaMale.Description)
	assert.Contains(t, local, "Hinglish")
	assert.NotEqual(t, english, local)
}
