package auth

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/EverCrawl/game"
)

// Cached remembers successful validations for a fixed TTL. Failures are
// never cached.
type Cached struct {
	next  game.Validator
	cache *cache.Cache
}

// NewCached wraps next with a TTL cache.
func NewCached(next game.Validator, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Validate implements game.Validator.
func (c *Cached) Validate(ctx context.Context, token string) (game.Credentials, error) {
	if creds, ok := c.cache.Get(token); ok {
		return creds.(game.Credentials), nil
	}

	creds, err := c.next.Validate(ctx, token)
	if err != nil {
		return game.Credentials{}, err
	}

	c.cache.SetDefault(token, creds)
	return creds, nil
}

// Forget drops token from the cache, e.g. after a logout.
func (c *Cached) Forget(token string) {
	c.cache.Delete(token)
}
