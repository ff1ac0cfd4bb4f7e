package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

func TestDoDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("x-api-key = %q, want secret", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Variables["id"] != "g-1" {
			t.Errorf("variables = %v", req.Variables)
		}
		w.Write([]byte(`{"data":{"getGuess":{"id":"g-1","status":"PENDING"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 0)
	var out struct {
		GetGuess *domain.Guess `json:"getGuess"`
	}
	if err := c.Do(context.Background(), "query", map[string]any{"id": "g-1"}, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.GetGuess == nil || out.GetGuess.Status != domain.GuessStatusPending {
		t.Fatalf("unexpected guess: %+v", out.GetGuess)
	}
}

func TestDoReturnsStructuredErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"errors":[{"message":"The conditional request failed","errorType":"DynamoDB:ConditionalCheckFailedException"}]}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", 0).Do(context.Background(), "mutation", nil, nil)
	var gqlErr *Error
	if !errors.As(err, &gqlErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if len(gqlErr.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(gqlErr.Entries))
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected errors.Is(err, ErrConflict)")
	}
	if !IsConditionalCheckFailed(err) {
		t.Fatalf("expected IsConditionalCheckFailed")
	}
}

func TestDoNonOKWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", 0).Do(context.Background(), "query", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var gqlErr *Error
	if errors.As(err, &gqlErr) {
		t.Fatalf("plain HTTP failure should not be a GraphQL error: %v", err)
	}
}

func TestErrorIsMapsErrorTypes(t *testing.T) {
	tests := []struct {
		errorType string
		conflict  bool
		exists    bool
	}{
		{"DynamoDB:ConditionalCheckFailedException", true, false},
		{"DynamoDB:DuplicateItem", false, true},
		{"ResourceAlreadyExists", false, true},
		{"Unauthorized", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.errorType, func(t *testing.T) {
			err := fmt.Errorf("create: %w", &Error{Entries: []ErrorEntry{{Message: "m", ErrorType: tt.errorType}}})
			if got := errors.Is(err, domain.ErrConflict); got != tt.conflict {
				t.Errorf("Is(ErrConflict) = %v, want %v", got, tt.conflict)
			}
			if got := errors.Is(err, domain.ErrAlreadyExists); got != tt.exists {
				t.Errorf("Is(ErrAlreadyExists) = %v, want %v", got, tt.exists)
			}
		})
	}
}
