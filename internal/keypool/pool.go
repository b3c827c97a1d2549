// Package keypool rotates API keys for rate-limited provider calls.
package keypool

import (
	"sync"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// Pool hands out keys round-robin across a fixed set of credentials.
type Pool struct {
	mu   sync.Mutex
	keys []string
	next int
}

// New constructs a Pool. Empty or duplicate keys are dropped.
func New(keys []string) *Pool {
	seen := make(map[string]struct{}, len(keys))
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, k)
	}
	return &Pool{keys: kept}
}

// HasKeys reports whether at least one key is configured.
func (p *Pool) HasKeys() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys) > 0
}

// Size returns the number of configured keys.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the next key round-robin, or ErrNoKeys when the pool is
// empty (callers fall back to a single default key).
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", leads.ErrNoKeys
	}
	key := p.keys[p.next%len(p.keys)]
	p.next++
	metrics.ObserveKeyRotation()
	return key, nil
}

// NextExcluding returns the next key that differs from the given one.
// With a single configured key there is no different key to offer.
func (p *Pool) NextExcluding(used string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", leads.ErrNoKeys
	}
	for i := 0; i < len(p.keys); i++ {
		key := p.keys[p.next%len(p.keys)]
		p.next++
		if key != used {
			metrics.ObserveKeyRotation()
			return key, nil
		}
	}
	return "", leads.ErrNoKeys
}
