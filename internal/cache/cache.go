// Package cache defines the TTL key-value store shared by the external
// clients. Instances are constructed by the composition root and passed
// in; there is no package-level singleton.
package cache

import (
	"context"
	"time"

	"github.com/gtm-intel/backend/pkg/utils"
)

// Default TTLs per value class.
const (
	SearchTTL = 2 * time.Hour
	ScrapeTTL = 24 * time.Hour
	LLMTTL    = time.Hour
)

// Cache is safe for concurrent use. Get returns false on a miss or an
// expired entry; backends swallow their own transport errors and report
// them as misses so callers always fall through to the origin.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key derives a stable cache key from a scope and its parameters.
func Key(scope string, params ...string) string {
	return scope + ":" + utils.HashParams(params...)
}
