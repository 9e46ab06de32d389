// Package auth provides game.Validator implementations: an accept-all stub,
// a Redis token lookup, an SQL token lookup through the database worker, and
// a caching decorator.
package auth

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/config"
	"github.com/EverCrawl/game/internal/db"
	"github.com/EverCrawl/game/internal/logger"
)

// Static accepts every token as-is. It stands in until tokens are backed by
// a real store.
type Static struct{}

// Validate implements game.Validator.
func (Static) Validate(_ context.Context, token string) (game.Credentials, error) {
	return game.Credentials{Token: token}, nil
}

// FromConfig builds the validator selected by cfg. database may be nil unless
// cfg.Validator is "sql". The returned close function releases any client the
// validator owns.
func FromConfig(cfg config.Auth, database *db.Database, log logger.Logger) (game.Validator, func() error, error) {
	var (
		validator game.Validator
		closeFn   = func() error { return nil }
	)

	switch cfg.Validator {
	case config.ValidatorStatic, "":
		validator = Static{}
	case config.ValidatorRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		validator = NewRedis(client, cfg.KeyPrefix)
		closeFn = client.Close
	case config.ValidatorSQL:
		if database == nil {
			return nil, nil, fmt.Errorf("sql validator needs a database")
		}
		validator = NewSQL(database)
	default:
		return nil, nil, fmt.Errorf("unknown validator %q", cfg.Validator)
	}

	if ttl := cfg.CacheTTL.Std(); ttl > 0 && cfg.Validator != config.ValidatorStatic && cfg.Validator != "" {
		validator = NewCached(validator, ttl)
	}

	log.Info("credential validator ready",
		logger.Field{Key: "component", Value: "auth"},
		logger.Field{Key: "validator", Value: cfg.Validator},
		logger.Field{Key: "cache_ttl", Value: cfg.CacheTTL.Std().String()},
	)

	return validator, closeFn, nil
}
