package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/domain"
	"github.com/medgate/inference-gateway/pkg/textx"
)

// Cache wraps a ModelClient and serves repeated completions from memory.
// Keys are content-addressed over the resolved model name plus normalized
// message content, so formatting noise does not defeat a hit. Eviction is
// FIFO; entries also expire after a fixed TTL. Safe for concurrent use.
type Cache struct {
	base     domain.ModelClient
	ttl      time.Duration
	capacity int

	mu  sync.RWMutex
	m   map[string]cacheEntry
	ord []string

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	out       domain.ChatCompletion
	expiresAt time.Time
}

// NewCache wraps base with a completion cache. capacity <= 0 defaults to 512.
func NewCache(base domain.ModelClient, ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 512
	}
	return &Cache{
		base:     base,
		ttl:      ttl,
		capacity: capacity,
		m:        make(map[string]cacheEntry),
		ord:      make([]string, 0, capacity),
	}
}

// Complete serves from cache when an identical request already resolved to
// the same model; otherwise it calls through and stores the result.
func (c *Cache) Complete(ctx domain.Context, endpointURL, model string, req domain.ChatRequest) (domain.ChatCompletion, error) {
	k := cacheKey(model, req.Messages)

	c.mu.RLock()
	e, ok := c.m[k]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		c.hits.Add(1)
		observability.CacheHitsTotal.Inc()
		return e.out, nil
	}

	c.misses.Add(1)
	observability.CacheMissesTotal.Inc()

	out, err := c.base.Complete(ctx, endpointURL, model, req)
	if err != nil {
		return out, err
	}
	c.put(k, out)
	return out, nil
}

// CheckHealth passes through; health is never cached.
func (c *Cache) CheckHealth(ctx domain.Context, endpointURL string) error {
	return c.base.CheckHealth(ctx, endpointURL)
}

// HitRate returns hits/(hits+misses), zero before any lookup.
func (c *Cache) HitRate() float64 {
	h := c.hits.Load()
	m := c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

func (c *Cache) put(k string, out domain.ChatCompletion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[k]; exists {
		c.m[k] = cacheEntry{out: out, expiresAt: time.Now().Add(c.ttl)}
		return
	}
	if len(c.ord) >= c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	c.m[k] = cacheEntry{out: out, expiresAt: time.Now().Add(c.ttl)}
	c.ord = append(c.ord, k)
}

func cacheKey(model string, messages []domain.ChatMessage) string {
	h := sha256.New()
	h.Write([]byte(model))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(textx.NormalizeForHash(m.Content)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

var _ domain.ModelClient = (*Cache)(nil)
