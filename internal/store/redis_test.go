package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAISendKeyFixedWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	k1 := aiSendKey("alice", time.Minute, start)
	k2 := aiSendKey("alice", time.Minute, start.Add(59*time.Second))
	k3 := aiSendKey("alice", time.Minute, start.Add(time.Minute))

	assert.Equal(t, k1, k2, "same window shares a counter")
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, aiSendKey("bob", time.Minute, start))
	assert.Contains(t, k1, "ratelimit:ai:alice:")
}
