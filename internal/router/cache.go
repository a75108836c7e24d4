package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDecisionCache is a read-through DecisionCache backed by Redis,
// memoizing Llm-strategy decisions per model and last-user-text key so
// repeated identical router-model calls are avoided. It
// never changes routing semantics: a cache miss or Redis error simply
// falls through to a live Llm.Decide call.
type RedisDecisionCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDecisionCache constructs a RedisDecisionCache. keyPrefix
// namespaces cache keys (e.g. "muninn:router:"); ttl bounds how long a
// decision is memoized.
func NewRedisDecisionCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *RedisDecisionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDecisionCache{rdb: rdb, prefix: keyPrefix, ttl: ttl}
}

type cachedDecision struct {
	Route      Route    `json:"route"`
	Rationale  []string `json:"rationale"`
	Confidence float64  `json:"confidence"`
}

func (c *RedisDecisionCache) Get(ctx context.Context, key string) (Decision, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if err != nil {
		// redis.Nil (miss) and any transport error both fall through to a
		// live decision; the router never fails on a cache problem.
		return Decision{}, false
	}
	var cd cachedDecision
	if err := json.Unmarshal([]byte(raw), &cd); err != nil {
		return Decision{}, false
	}
	return Decision{Route: cd.Route, Rationale: cd.Rationale, Confidence: cd.Confidence}, true
}

func (c *RedisDecisionCache) Set(ctx context.Context, key string, d Decision) {
	raw, err := json.Marshal(cachedDecision{Route: d.Route, Rationale: d.Rationale, Confidence: d.Confidence})
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}
