package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

const userColumns = `id, email, username, score, streak, last_updated_at`

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Get returns the user state for id.
func (s *UserStore) Get(ctx context.Context, id string) (domain.UserState, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM user_states WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// UpdateScore sets score only if last_updated_at still equals expected.
func (s *UserStore) UpdateScore(ctx context.Context, id string, score int, expected, now time.Time) (domain.UserState, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE user_states SET score = $2, last_updated_at = $4
		WHERE id = $1 AND last_updated_at = $3
		RETURNING `+userColumns,
		id, score, expected, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserState{}, fmt.Errorf("postgres: update score for %s: %w", id, domain.ErrConflict)
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("postgres: update score for %s: %w", id, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (domain.UserState, error) {
	var u domain.UserState
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Score, &u.Streak, &u.LastUpdatedAt)
	return u, err
}

var _ domain.UserStore = (*UserStore)(nil)
