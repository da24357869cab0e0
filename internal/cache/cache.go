package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// New creates an in-process cache whose entries expire ttl after they are
// stored. Reads do not extend an entry's lifetime.
func New[V any](ttl time.Duration) *ttlcache.Cache[string, V] {
	return ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
}

// Key generates a cache key from its parts
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
