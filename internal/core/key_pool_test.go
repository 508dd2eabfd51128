package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPoolRoundRobin(t *testing.T) {
	p := NewKeyPool([]string{"k1", " ", "k2", "k3 "})
	require.Equal(t, 3, p.Len())

	var got []string
	for i := 0; i < 7; i++ {
		k, err := p.Next()
		require.NoError(t, err)
		got = append(got, k)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3", "k1"}, got)
}

func TestKeyPoolEmpty(t *testing.T) {
	p := NewKeyPool(nil)

	_, err := p.Next()
	assert.ErrorIs(t, err, ErrNoProviderKeys)
}
