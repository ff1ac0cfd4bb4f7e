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

const guessColumns = `id, owner, created_at, settle_at, direction, status,
	start_price, end_price, COALESCE(start_snapshot_id, ''), COALESCE(end_snapshot_id, ''),
	COALESCE(result, ''), COALESCE(outcome, ''), updated_at`

// GuessStore implements domain.GuessStore using PostgreSQL.
type GuessStore struct {
	pool *pgxpool.Pool
}

// NewGuessStore creates a new GuessStore.
func NewGuessStore(pool *pgxpool.Pool) *GuessStore {
	return &GuessStore{pool: pool}
}

// Get returns the guess with the given id.
func (s *GuessStore) Get(ctx context.Context, id string) (domain.Guess, error) {
	g, err := scanGuess(s.pool.QueryRow(ctx,
		`SELECT `+guessColumns+` FROM guesses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Guess{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Guess{}, fmt.Errorf("postgres: get guess %s: %w", id, err)
	}
	return g, nil
}

// MarkSettled writes the settlement in one statement, guarded on the guess
// still being PENDING. A lost race returns domain.ErrConflict.
func (s *GuessStore) MarkSettled(ctx context.Context, id string, st domain.GuessSettlement) (domain.Guess, error) {
	g, err := scanGuess(s.pool.QueryRow(ctx, `
		UPDATE guesses
		SET status = 'SETTLED',
		    start_snapshot_id = $2, end_snapshot_id = $3,
		    start_price = $4, end_price = $5,
		    result = $6, outcome = $7,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+guessColumns,
		id, st.StartSnapshotID, st.EndSnapshotID, st.StartPrice, st.EndPrice,
		string(st.Result), string(st.Outcome),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Guess{}, fmt.Errorf("postgres: settle guess %s: %w", id, domain.ErrConflict)
	}
	if err != nil {
		return domain.Guess{}, fmt.Errorf("postgres: settle guess %s: %w", id, err)
	}
	return g, nil
}

// MarkFailed sets status to FAILED and leaves every other column alone.
func (s *GuessStore) MarkFailed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE guesses SET status = 'FAILED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("postgres: fail guess %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: fail guess %s: %w", id, domain.ErrConflict)
	}
	return nil
}

// ListPendingBefore returns PENDING guesses due before the cutoff, oldest
// first.
func (s *GuessStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Guess, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+guessColumns+` FROM guesses
		WHERE status = 'PENDING' AND settle_at < $1
		ORDER BY settle_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending guesses: %w", err)
	}
	defer rows.Close()

	var out []domain.Guess
	for rows.Next() {
		g, err := scanGuess(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan guess: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGuess(row pgx.Row) (domain.Guess, error) {
	var g domain.Guess
	var direction, status, result, outcome string
	err := row.Scan(&g.ID, &g.Owner, &g.CreatedAt, &g.SettleAt, &direction, &status,
		&g.StartPrice, &g.EndPrice, &g.StartSnapshotID, &g.EndSnapshotID,
		&result, &outcome, &g.UpdatedAt)
	if err != nil {
		return domain.Guess{}, err
	}
	g.Direction = domain.Direction(direction)
	g.Status = domain.GuessStatus(status)
	g.Result = domain.PriceResult(result)
	g.Outcome = domain.Outcome(outcome)
	return g, nil
}

var _ domain.GuessStore = (*GuessStore)(nil)
