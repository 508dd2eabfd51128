package core

import (
	"errors"
	"strings"
	"sync"
)

var ErrNoProviderKeys = errors.New("no provider API keys configured")

// KeyPool hands out provider API keys round-robin.
type KeyPool struct {
	mu   sync.Mutex
	keys []string
	next int
}

func NewKeyPool(keys []string) *KeyPool {
	p := &KeyPool{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			p.keys = append(p.keys, k)
		}
	}
	return p
}

// Next returns the current key and advances the rotation index modulo the pool size.
func (p *KeyPool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", ErrNoProviderKeys
	}
	key := p.keys[p.next]
	p.next = (p.next + 1) % len(p.keys)
	return key, nil
}

func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
