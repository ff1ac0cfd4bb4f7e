package graphql

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

const userFields = `
	id
	email
	username
	score
	streak
	lastUpdatedAt`

const getUserQuery = `
	query GetUserState($id: ID!) {
		getUserState(id: $id) {` + userFields + `
		}
	}`

const updateUserMutation = `
	mutation UpdateUserState($input: UpdateUserStateInput!, $condition: ModelUserStateConditionInput) {
		updateUserState(input: $input, condition: $condition) {` + userFields + `
		}
	}`

// UserStore implements domain.UserStore.
type UserStore struct {
	client Doer
}

// NewUserStore creates a UserStore backed by client.
func NewUserStore(client Doer) *UserStore {
	return &UserStore{client: client}
}

// Get fetches a user's score record.
func (s *UserStore) Get(ctx context.Context, id string) (domain.UserState, error) {
	var out struct {
		GetUserState *domain.UserState `json:"getUserState"`
	}
	if err := s.client.Do(ctx, getUserQuery, map[string]any{"id": id}, &out); err != nil {
		return domain.UserState{}, fmt.Errorf("graphql store: get user %s: %w", id, err)
	}
	if out.GetUserState == nil {
		return domain.UserState{}, fmt.Errorf("graphql store: get user %s: %w", id, domain.ErrNotFound)
	}
	return *out.GetUserState, nil
}

// UpdateScore writes score only if lastUpdatedAt still equals expected. A
// zero expected means the record has never been scored, so the write is
// conditioned on the attribute being absent.
func (s *UserStore) UpdateScore(ctx context.Context, id string, score int, expected, now time.Time) (domain.UserState, error) {
	vars := map[string]any{
		"input": map[string]any{
			"id":            id,
			"score":         score,
			"lastUpdatedAt": formatTime(now),
		},
		"condition": scoreCondition(expected),
	}

	var out struct {
		UpdateUserState *domain.UserState `json:"updateUserState"`
	}
	if err := s.client.Do(ctx, updateUserMutation, vars, &out); err != nil {
		return domain.UserState{}, fmt.Errorf("graphql store: update score %s: %w", id, err)
	}
	if out.UpdateUserState == nil {
		return domain.UserState{}, fmt.Errorf("graphql store: update score %s: empty response", id)
	}
	return *out.UpdateUserState, nil
}

func scoreCondition(expected time.Time) map[string]any {
	if expected.IsZero() {
		return map[string]any{
			"lastUpdatedAt": map[string]any{"attributeExists": false},
		}
	}
	return map[string]any{
		"lastUpdatedAt": map[string]any{"eq": formatTime(expected)},
	}
}
