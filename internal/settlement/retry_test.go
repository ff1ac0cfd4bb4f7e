package settlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsWhenDone(t *testing.T) {
	calls := 0
	done, err := Retry(context.Background(), 5, 0, func(attempt int) (bool, error) {
		calls++
		return attempt == 2, nil
	})
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryExhausts(t *testing.T) {
	calls := 0
	done, err := Retry(context.Background(), 4, time.Millisecond, func(int) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil || done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestRetryPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Retry(context.Background(), 3, 0, func(int) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Retry(ctx, 3, time.Hour, func(int) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("fn ran %d times after cancel", calls)
	}
}
