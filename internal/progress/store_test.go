package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client)
}

func TestStore_SetAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	stored, err := store.Set(ctx, "morning-flow", 42.4)
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if stored != 42 {
		t.Errorf("expected rounded 42, got %d", stored)
	}

	got, err := store.Get(ctx, "morning-flow")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestStore_ClampsPercent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		percent float64
		want    int
	}{
		{"negative clamps to zero", -10, 0},
		{"over 100 clamps to 100", 150.7, 100},
		{"rounds up", 99.5, 100},
		{"rounds down", 0.4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := store.Set(ctx, "clamp-test", tt.percent)
			if err != nil {
				t.Fatalf("set failed: %v", err)
			}
			if stored != tt.want {
				t.Errorf("Set(%v) = %d, want %d", tt.percent, stored, tt.want)
			}
		})
	}
}

func TestStore_GetUnknownIsZero(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Get(context.Background(), "never-practiced")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 for unknown session, got %d", got)
	}
}

func TestStore_All(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Set(ctx, "morning-flow", 100); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := store.Set(ctx, "deep-stretch", 25); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all["morning-flow"] != 100 || all["deep-stretch"] != 25 {
		t.Errorf("unexpected progress map %v", all)
	}
}

func TestStore_PublishesUpdates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sub := store.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if _, err := store.Set(ctx, "core-strength", 60); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "core-strength:60" {
			t.Errorf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress update")
	}
}
