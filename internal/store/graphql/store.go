// Package graphql implements the domain store interfaces on top of the hosted
// GraphQL datastore.
package graphql

import (
	"context"
	"time"

	gql "github.com/alanyoungcy/btcguess/internal/platform/graphql"
)

// Doer executes one GraphQL operation. *graphql.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, query string, variables map[string]any, out any) error
}

var _ Doer = (*gql.Client)(nil)

// timeLayout is the AWSDateTime rendering used for every timestamp variable.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
