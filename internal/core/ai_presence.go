package core

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultAIPresenceTTL   = 5 * time.Minute
	DefaultAISweepInterval = time.Minute
)

// AIPresence tracks personas that count as online because someone recently wrote to them.
// An entry is live while now < expiresAt.
type AIPresence struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
}

func NewAIPresence(ttl time.Duration) *AIPresence {
	if ttl <= 0 {
		ttl = DefaultAIPresenceTTL
	}
	return &AIPresence{
		ttl:     ttl,
		expires: make(map[string]time.Time),
	}
}

// MarkOnline sets the persona's expiry to now + ttl, overwriting any previous expiry.
func (p *AIPresence) MarkOnline(personaID string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expires[personaID] = now.Add(p.ttl)
}

// Sweep drops every entry with expiresAt <= now and reports whether anything was dropped.
func (p *AIPresence) Sweep(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := false
	for id, exp := range p.expires {
		if !exp.After(now) {
			delete(p.expires, id)
			removed = true
		}
	}
	return removed
}

// ListOnline returns live personas, sorted.
func (p *AIPresence) ListOnline(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	online := make([]string, 0, len(p.expires))
	for id, exp := range p.expires {
		if exp.After(now) {
			online = append(online, id)
		}
	}
	sort.Strings(online)
	return online
}
