package generation

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	outputs []string
	expires time.Time
}

// CachingGenerator wraps another Generator with a TTL-based in-memory cache
// keyed by prompt. Resubmitting the same seed text within the TTL reuses the
// previous model output instead of paying for another generation call.
// Failures are never cached.
type CachingGenerator struct {
	base Generator
	ttl  time.Duration

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingGenerator returns a Generator that caches outputs for the
// provided TTL.
func NewCachingGenerator(base Generator, ttl time.Duration) *CachingGenerator {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingGenerator{
		base:  base,
		ttl:   ttl,
		items: make(map[string]cacheEntry),
	}
}

// GenerateContent returns a cached output when a fresh one exists for the
// prompt and otherwise delegates to the wrapped generator.
func (c *CachingGenerator) GenerateContent(ctx context.Context, prompt string) ([]string, error) {
	if outputs, ok := c.lookup(prompt); ok {
		return outputs, nil
	}

	outputs, err := c.base.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items[prompt] = cacheEntry{
		outputs: outputs,
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return outputs, nil
}

func (c *CachingGenerator) lookup(prompt string) ([]string, bool) {
	c.mu.RLock()
	entry, ok := c.items[prompt]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	// Callers may reorder or trim the slice; hand out a copy.
	outputs := make([]string, len(entry.outputs))
	copy(outputs, entry.outputs)
	return outputs, true
}
