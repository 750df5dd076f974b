package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/use-agent/quietpage/models"
)

func TestCache_MaxAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newWithClock(10, time.Hour, clock)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", &models.SettleResponse{Success: true, Content: "hello"})

	if _, hit := c.Get(ctx, "k", 0); hit {
		t.Error("maxAge 0 must never hit")
	}
	got, hit := c.Get(ctx, "k", time.Minute)
	if !hit || got.Content != "hello" {
		t.Fatalf("Get = %+v, %v; want hit", got, hit)
	}

	got.Content = "mutated"
	again, _ := c.Get(ctx, "k", time.Minute)
	if again.Content != "hello" {
		t.Error("Get must return a copy")
	}

	clock.Advance(2 * time.Minute)
	if _, hit := c.Get(ctx, "k", time.Minute); hit {
		t.Error("entry older than maxAge should miss")
	}
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	c := newWithClock(2, time.Hour, clockwork.NewFakeClock())
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", &models.SettleResponse{})
	c.Set(ctx, "b", &models.SettleResponse{})
	c.Set(ctx, "b", &models.SettleResponse{}) // overwrite, no eviction
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	c.Set(ctx, "c", &models.SettleResponse{})
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 after eviction", c.Len())
	}
}

func TestCache_CleanupLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newWithClock(10, time.Hour, clock)
	defer c.Close()

	c.Set(context.Background(), "old", &models.SettleResponse{})
	if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(65 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired entry was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKey_DependsOnExtractionOptions(t *testing.T) {
	base := models.SettleRequest{URL: "https://example.com"}
	base.Defaults()

	other := base
	other.CSSSelector = "main"
	if Key(&base) == Key(&other) {
		t.Error("css selector should change the key")
	}

	same := base
	if Key(&base) != Key(&same) {
		t.Error("identical requests should share a key")
	}
}

func TestDecodeEntry(t *testing.T) {
	now := time.Now()
	data, err := json.Marshal(redisEntry{
		CreatedAt: now.Add(-30 * time.Second).UnixMilli(),
		Response:  &models.SettleResponse{Content: "x"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp, ok := decodeEntry(data, now, time.Minute); !ok || resp.Content != "x" {
		t.Errorf("decodeEntry = %+v, %v; want hit", resp, ok)
	}
	if _, ok := decodeEntry(data, now, 10*time.Second); ok {
		t.Error("stale entry should miss")
	}
	if _, ok := decodeEntry([]byte("garbage"), now, time.Minute); ok {
		t.Error("garbage should miss")
	}
}
