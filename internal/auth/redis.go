package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/EverCrawl/game"
)

// Redis validates tokens by looking up prefix+token. A token is valid when
// the key exists; its value is not interpreted.
type Redis struct {
	client redis.Cmdable
	prefix string
}

// NewRedis creates a Redis validator.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	validator := NewRedis(client, "session:")
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Key returns the Redis key holding token.
func (r *Redis) Key(token string) string {
	return r.prefix + token
}

// Validate implements game.Validator.
func (r *Redis) Validate(ctx context.Context, token string) (game.Credentials, error) {
	if token == "" {
		return game.Credentials{}, fmt.Errorf("%w: empty token", game.ErrAuthenticationFailure)
	}

	err := r.client.Get(ctx, r.Key(token)).Err()
	if errors.Is(err, redis.Nil) {
		return game.Credentials{}, fmt.Errorf("%w: unknown token", game.ErrAuthenticationFailure)
	}
	if err != nil {
		return game.Credentials{}, fmt.Errorf("redis get error: %w", err)
	}

	return game.Credentials{Token: token}, nil
}
