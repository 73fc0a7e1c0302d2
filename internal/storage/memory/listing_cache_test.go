package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-insight-lab/internal/storage"
)

func TestListingCache_SetAndGet(t *testing.T) {
	cache := NewListingCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "listings:USD:1:50", []byte(`{"data":[]}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, "listings:USD:1:50")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"data":[]}` {
		t.Errorf("value mismatch: got %s", got)
	}
}

func TestListingCache_NotFound(t *testing.T) {
	cache := NewListingCache()

	_, err := cache.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListingCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewListingCache().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, err := cache.Get(ctx, "k"); err != nil {
		t.Fatalf("expected hit before expiry, got %v", err)
	}

	now = now.Add(time.Second)
	if _, err := cache.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound at expiry, got %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected expired entry evicted, len = %d", cache.Len())
	}
}

func TestListingCache_NoTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewListingCache().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(24 * 365 * time.Hour)

	if _, err := cache.Get(ctx, "k"); err != nil {
		t.Errorf("expected entry without ttl to persist, got %v", err)
	}
}

func TestListingCache_InvalidKey(t *testing.T) {
	cache := NewListingCache()

	err := cache.Set(context.Background(), "", []byte("v"), time.Minute)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestListingCache_ValuesAreCopied(t *testing.T) {
	cache := NewListingCache()
	ctx := context.Background()

	value := []byte("abc")
	_ = cache.Set(ctx, "k", value, time.Minute)
	value[0] = 'x'

	got, _ := cache.Get(ctx, "k")
	got[1] = 'y'

	again, _ := cache.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("cache value mutated through caller slices: %s", again)
	}
}

func TestListingCache_Delete(t *testing.T) {
	cache := NewListingCache()
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key should not fail: %v", err)
	}
	if _, err := cache.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestListingCache_Concurrent(t *testing.T) {
	cache := NewListingCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Set(ctx, "k", []byte("v"), time.Minute)
			_, _ = cache.Get(ctx, "k")
		}()
	}
	wg.Wait()

	if cache.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", cache.Len())
	}
}
