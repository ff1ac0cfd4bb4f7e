package graphql

import (
	"errors"
	"strings"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// conditionalCheckFailed is the errorType the datastore reports when a
// mutation's condition expression rejects the write.
const conditionalCheckFailed = "ConditionalCheckFailedException"

// duplicateTypes are the errorTypes resolvers use for a create whose key is
// already taken.
var duplicateTypes = []string{"DuplicateItem", "AlreadyExists"}

// ErrorEntry is one member of a GraphQL errors array.
type ErrorEntry struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType,omitempty"`
	Path      []any  `json:"path,omitempty"`
}

// Error is returned whenever the server answers with a non-empty errors
// array. It keeps every entry so callers can inspect error types.
type Error struct {
	StatusCode int
	Entries    []ErrorEntry
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		if entry.ErrorType != "" {
			msgs = append(msgs, entry.ErrorType+": "+entry.Message)
		} else {
			msgs = append(msgs, entry.Message)
		}
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// HasType reports whether any entry's errorType contains typ.
func (e *Error) HasType(typ string) bool {
	for _, entry := range e.Entries {
		if strings.Contains(entry.ErrorType, typ) {
			return true
		}
	}
	return false
}

// Is maps a failed condition expression onto domain.ErrConflict and a
// duplicate key onto domain.ErrAlreadyExists.
func (e *Error) Is(target error) bool {
	switch target {
	case domain.ErrConflict:
		return e.HasType(conditionalCheckFailed)
	case domain.ErrAlreadyExists:
		for _, typ := range duplicateTypes {
			if e.HasType(typ) {
				return true
			}
		}
	}
	return false
}

// IsConditionalCheckFailed reports whether err carries a failed condition.
func IsConditionalCheckFailed(err error) bool {
	var gqlErr *Error
	return errors.As(err, &gqlErr) && gqlErr.HasType(conditionalCheckFailed)
}
