package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/db"
)

// sessionQuery looks a token up in the sessions table.
const sessionQuery = `SELECT token FROM sessions WHERE token = $1`

// Submitter queues work on the database worker.
type Submitter interface {
	Submit(ctx context.Context, query db.Query) error
}

// SQL validates tokens against the sessions table through the database
// worker, so lookups share its single submit queue with game logic.
type SQL struct {
	db Submitter
}

// NewSQL creates an SQL validator.
func NewSQL(database Submitter) *SQL {
	return &SQL{db: database}
}

type lookup struct {
	token string
	err   error
}

// Validate implements game.Validator.
func (s *SQL) Validate(ctx context.Context, token string) (game.Credentials, error) {
	if token == "" {
		return game.Credentials{}, fmt.Errorf("%w: empty token", game.ErrAuthenticationFailure)
	}

	result := make(chan lookup, 1)
	err := s.db.Submit(ctx, func(ctx context.Context, pool *sql.DB) {
		var found string
		err := pool.QueryRowContext(ctx, sessionQuery, token).Scan(&found)
		result <- lookup{token: found, err: err}
	})
	if err != nil {
		return game.Credentials{}, err
	}

	select {
	case <-ctx.Done():
		return game.Credentials{}, ctx.Err()
	case res := <-result:
		if errors.Is(res.err, sql.ErrNoRows) {
			return game.Credentials{}, fmt.Errorf("%w: unknown token", game.ErrAuthenticationFailure)
		}
		if res.err != nil {
			return game.Credentials{}, fmt.Errorf("session lookup: %w", res.err)
		}
		return game.Credentials{Token: res.token}, nil
	}
}
