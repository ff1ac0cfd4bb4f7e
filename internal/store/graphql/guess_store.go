package graphql

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// guessFields is the wide selection returned from every guess operation.
// Mutations select it too so subscribers of the update never see a
// partial-shape payload.
const guessFields = `
	id
	owner
	createdAt
	settleAt
	direction
	status
	startPrice
	endPrice
	startSnapshotId
	endSnapshotId
	result
	outcome
	updatedAt`

const getGuessQuery = `
	query GetGuess($id: ID!) {
		getGuess(id: $id) {` + guessFields + `
		}
	}`

const updateGuessMutation = `
	mutation UpdateGuess($input: UpdateGuessInput!, $condition: ModelGuessConditionInput) {
		updateGuess(input: $input, condition: $condition) {` + guessFields + `
		}
	}`

const pendingGuessesQuery = `
	query PendingGuesses($before: String!, $limit: Int!) {
		guessesByStatusAndSettleAt(
			status: PENDING
			settleAt: { lt: $before }
			sortDirection: ASC
			limit: $limit
		) {
			items {` + guessFields + `
			}
		}
	}`

// GuessStore implements domain.GuessStore.
type GuessStore struct {
	client Doer
}

// NewGuessStore creates a GuessStore backed by client.
func NewGuessStore(client Doer) *GuessStore {
	return &GuessStore{client: client}
}

// Get fetches a guess by id.
func (s *GuessStore) Get(ctx context.Context, id string) (domain.Guess, error) {
	var out struct {
		GetGuess *domain.Guess `json:"getGuess"`
	}
	if err := s.client.Do(ctx, getGuessQuery, map[string]any{"id": id}, &out); err != nil {
		return domain.Guess{}, fmt.Errorf("graphql store: get guess %s: %w", id, err)
	}
	if out.GetGuess == nil {
		return domain.Guess{}, fmt.Errorf("graphql store: get guess %s: %w", id, domain.ErrNotFound)
	}
	return *out.GetGuess, nil
}

// MarkSettled writes the full settlement in one conditional update. The
// condition only lets PENDING guesses through, so a guess is settled at most
// once.
func (s *GuessStore) MarkSettled(ctx context.Context, id string, st domain.GuessSettlement) (domain.Guess, error) {
	vars := map[string]any{
		"input": map[string]any{
			"id":              id,
			"startSnapshotId": st.StartSnapshotID,
			"endSnapshotId":   st.EndSnapshotID,
			"startPrice":      st.StartPrice,
			"endPrice":        st.EndPrice,
			"result":          string(st.Result),
			"outcome":         string(st.Outcome),
			"status":          string(domain.GuessStatusSettled),
		},
		"condition": pendingCondition(),
	}

	var out struct {
		UpdateGuess *domain.Guess `json:"updateGuess"`
	}
	if err := s.client.Do(ctx, updateGuessMutation, vars, &out); err != nil {
		return domain.Guess{}, fmt.Errorf("graphql store: settle guess %s: %w", id, err)
	}
	if out.UpdateGuess == nil {
		return domain.Guess{}, fmt.Errorf("graphql store: settle guess %s: empty response", id)
	}
	return *out.UpdateGuess, nil
}

// MarkFailed sets status FAILED and leaves every other field untouched.
func (s *GuessStore) MarkFailed(ctx context.Context, id string) error {
	vars := map[string]any{
		"input": map[string]any{
			"id":     id,
			"status": string(domain.GuessStatusFailed),
		},
		"condition": pendingCondition(),
	}
	if err := s.client.Do(ctx, updateGuessMutation, vars, nil); err != nil {
		return fmt.Errorf("graphql store: fail guess %s: %w", id, err)
	}
	return nil
}

// ListPendingBefore returns PENDING guesses whose settleAt is before the
// given instant, oldest first. A non-positive limit means defaultPendingLimit.
func (s *GuessStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Guess, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	var out struct {
		Page struct {
			Items []domain.Guess `json:"items"`
		} `json:"guessesByStatusAndSettleAt"`
	}
	vars := map[string]any{"before": formatTime(before), "limit": limit}
	if err := s.client.Do(ctx, pendingGuessesQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("graphql store: list pending guesses: %w", err)
	}
	return out.Page.Items, nil
}

const defaultPendingLimit = 100

func pendingCondition() map[string]any {
	return map[string]any{
		"status": map[string]any{"eq": string(domain.GuessStatusPending)},
	}
}
