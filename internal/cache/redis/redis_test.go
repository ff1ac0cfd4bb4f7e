package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

func TestHasPattern(t *testing.T) {
	for ch, want := range map[string]bool{
		"settlements":   false,
		"settlements:*": true,
		"user:?":        true,
		"x[ab]":         true,
	} {
		if got := hasPattern(ch); got != want {
			t.Errorf("hasPattern(%q) = %v", ch, got)
		}
	}
}

func TestChannelPrefix(t *testing.T) {
	if got := (&SignalBus{prefix: "btcguess"}).channel("settlements"); got != "btcguess:settlements" {
		t.Fatalf("channel = %s", got)
	}
	if got := (&SignalBus{}).channel("settlements"); got != "settlements" {
		t.Fatalf("channel = %s", got)
	}
}

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("BTCGUESS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BTCGUESS_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockExclusion(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c, 0)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestLockWaitsForRelease(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c, 2*time.Second)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.AfterFunc(100*time.Millisecond, unlock)

	second, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("waiting Acquire: %v", err)
	}
	second()
}

func TestSignalBusRoundTrip(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c, "test-"+uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.SettlementsChannel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Publish(ctx, domain.SettlementsChannel, []byte(`{"guessId":"g-1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != `{"guessId":"g-1"}` {
			t.Fatalf("payload = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected message after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c)
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("fourth request in window should be refused")
	}

	rl.now = func() time.Time { return fixed.Add(time.Minute) }
	if ok, err := rl.Allow(ctx, key, 3, time.Minute); err != nil || !ok {
		t.Fatalf("next window: ok=%v err=%v", ok, err)
	}
}

func TestRateLimitKeySlots(t *testing.T) {
	if rateLimitKey("ip:1.2.3.4", 7) == rateLimitKey("ip:1.2.3.4", 8) {
		t.Fatal("slots must produce distinct keys")
	}
}
