package redisad

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scanCount = 256
	delBatch  = 100
)

// KV implements the domain.KVStore port on top of go-redis.
type KV struct{ c *redis.Client }

func New(addr, pass string, db int) *KV {
	return &KV{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

// NewFromClient exists for tests (miniredis) and custom client setups.
func NewFromClient(c *redis.Client) *KV { return &KV{c: c} }

func (r *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *KV) Del(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScanDel walks the keyspace incrementally with SCAN and deletes matches in
// fixed-size batches. Never issues a single blocking full-keyspace command.
func (r *KV) ScanDel(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.c.Del(ctx, batch...).Result()
		deleted += int(n)
		batch = batch[:0]
		return err
	}
	for {
		keys, next, err := r.c.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			_ = flush()
			return deleted, err
		}
		for _, k := range keys {
			batch = append(batch, k)
			if len(batch) >= delBatch {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
