package cache

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"flex_reviews/internal/adapters/observability"
	"flex_reviews/internal/domain"
)

const (
	// Default TTLs are clamped into this band; explicit overrides are not.
	MinDefaultTTL = 120 * time.Second
	MaxDefaultTTL = 300 * time.Second
	// MaxJitter spreads default-TTL expiries to avoid synchronized mass
	// expiry. Jitter is never applied to caller-chosen TTLs.
	MaxJitter = 30 * time.Second

	DefaultStaleThreshold = 0.8
)

// Entry is the stored envelope: the serialized payload plus the metadata
// needed for staleness detection.
type Entry struct {
	Payload    json.RawMessage   `json:"payload"`
	TTLSeconds int               `json:"ttlSeconds"`
	CreatedAt  domain.Timestamp  `json:"createdAt"`
	Source     string            `json:"source,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

type SetOptions struct {
	TTL    time.Duration // 0 means default TTL + jitter
	Source string
	Params map[string]string
}

// Cache memoizes assembled responses over a KVStore. The store is an
// optional accelerator: every store failure degrades to a miss or no-op
// and is counted, never propagated.
type Cache struct {
	kv         domain.KVStore
	namespace  string
	defaultTTL time.Duration
	metrics    *Metrics

	now    func() time.Time
	jitter func() time.Duration
}

func New(kv domain.KVStore, namespace string, defaultTTL time.Duration) *Cache {
	if defaultTTL < MinDefaultTTL {
		defaultTTL = MinDefaultTTL
	}
	if defaultTTL > MaxDefaultTTL {
		defaultTTL = MaxDefaultTTL
	}
	return &Cache{
		kv:         kv,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		metrics:    NewMetrics(),
		now:        time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(MaxJitter)))
		},
	}
}

func (c *Cache) Namespace() string { return c.namespace }

func (c *Cache) Metrics() *Metrics { return c.metrics }

func (c *Cache) DefaultTTL() time.Duration { return c.defaultTTL }

// Key derives a deterministic cache key: namespace, endpoint tag, then
// every defined parameter sorted lexicographically by name and
// percent-encoded. Parameter order never matters; parameter values always
// do.
func (c *Cache) Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return c.namespace + ":" + endpoint
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return c.namespace + ":" + endpoint + ":" + strings.Join(pairs, "&")
}

// Get deserializes the stored payload into dst on hit. Misses, corruption,
// and store errors all report a miss; errors are additionally counted.
func (c *Cache) Get(ctx context.Context, key string, dst any) (Entry, bool) {
	c.metrics.gets.Add(1)
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		c.metrics.errors.Add(1)
		c.metrics.misses.Add(1)
		observability.ObserveCache(c.namespace, "error")
		log.Warn().Err(err).Str("key", key).Msg("cache get degraded to miss")
		return Entry{}, false
	}
	if !ok {
		c.metrics.misses.Add(1)
		observability.ObserveCache(c.namespace, "miss")
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.metrics.errors.Add(1)
		c.metrics.misses.Add(1)
		observability.ObserveCache(c.namespace, "error")
		log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry treated as miss")
		return Entry{}, false
	}
	if dst != nil {
		if err := json.Unmarshal(e.Payload, dst); err != nil {
			c.metrics.errors.Add(1)
			c.metrics.misses.Add(1)
			observability.ObserveCache(c.namespace, "error")
			log.Warn().Err(err).Str("key", key).Msg("corrupt cache payload treated as miss")
			return Entry{}, false
		}
	}
	c.metrics.hits.Add(1)
	observability.ObserveCache(c.namespace, "hit")
	return e, true
}

// Set stores the payload under key. Never raises; a false return means the
// entry was not written and the failure was counted.
func (c *Cache) Set(ctx context.Context, key string, payload any, opts SetOptions) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		c.metrics.errors.Add(1)
		observability.ObserveCache(c.namespace, "error")
		log.Warn().Err(err).Str("key", key).Msg("cache set marshal failed")
		return false
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL + c.jitter()
	}
	e := Entry{
		Payload:    b,
		TTLSeconds: int(ttl.Seconds()),
		CreatedAt:  domain.NewTimestamp(c.now()),
		Source:     opts.Source,
		Params:     opts.Params,
	}
	enc, err := json.Marshal(e)
	if err != nil {
		c.metrics.errors.Add(1)
		observability.ObserveCache(c.namespace, "error")
		return false
	}
	if err := c.kv.Set(ctx, key, string(enc), ttl); err != nil {
		c.metrics.errors.Add(1)
		observability.ObserveCache(c.namespace, "error")
		log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return false
	}
	c.metrics.sets.Add(1)
	observability.ObserveCache(c.namespace, "set")
	return true
}

// ShouldRefresh reports whether the entry's age exceeds threshold×ttl.
// Missing entries (and store errors) always report true; recomputation is
// the caller's explicit choice, never a background job.
func (c *Cache) ShouldRefresh(ctx context.Context, key string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		c.metrics.errors.Add(1)
		observability.ObserveCache(c.namespace, "error")
		return true
	}
	if !ok {
		return true
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.metrics.errors.Add(1)
		observability.ObserveCache(c.namespace, "error")
		return true
	}
	age := c.now().UTC().Sub(e.CreatedAt.Time)
	return age > time.Duration(threshold*float64(e.TTLSeconds))*time.Second
}

// Invalidate deletes one exact key, every key matching pattern, or — when
// both are empty — everything under the namespace. Returns the number of
// keys actually deleted.
func (c *Cache) Invalidate(ctx context.Context, exactKey, pattern string) int {
	switch {
	case exactKey != "":
		ok, err := c.kv.Del(ctx, exactKey)
		if err != nil {
			c.metrics.errors.Add(1)
			observability.ObserveCache(c.namespace, "error")
			log.Warn().Err(err).Str("key", exactKey).Msg("cache delete failed")
			return 0
		}
		if !ok {
			return 0
		}
		c.metrics.deletes.Add(1)
		observability.ObserveCache(c.namespace, "del")
		return 1
	case pattern == "":
		pattern = c.namespace + ":*"
	}
	n, err := c.kv.ScanDel(ctx, pattern)
	if err != nil {
		c.metrics.errors.Add(1)
		observability.ObserveCache(c.namespace, "error")
		log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete failed")
	}
	if n > 0 {
		c.metrics.deletes.Add(int64(n))
		observability.ObserveCache(c.namespace, "del")
	}
	return n
}
