package splists

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryMissingFields(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryMissingFields()

	if err := cache.Add(ctx, "title:records", "Legacy"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	_ = cache.Add(ctx, "title:records", "Legacy")
	_ = cache.Add(ctx, "title:other", "Extra")

	missing, err := cache.Missing(ctx, "title:records")
	if err != nil {
		t.Fatalf("Missing returned error: %v", err)
	}
	if len(missing) != 1 {
		t.Errorf("Expected 1 missing field, got %v", missing)
	}

	// Callers get a copy.
	missing["Injected"] = struct{}{}
	if again, _ := cache.Missing(ctx, "title:records"); len(again) != 1 {
		t.Errorf("Expected the cache to be unaffected by caller mutation, got %v", again)
	}

	if err := cache.Reset(ctx); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if after, _ := cache.Missing(ctx, "title:other"); len(after) != 0 {
		t.Errorf("Expected empty cache after reset, got %v", after)
	}
}

func TestInMemoryMissingFieldsConcurrent(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryMissingFields()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = cache.Add(ctx, "title:records", fmt.Sprintf("F%d", j))
				_, _ = cache.Missing(ctx, "title:records")
			}
		}(i)
	}
	wg.Wait()

	missing, _ := cache.Missing(ctx, "title:records")
	if len(missing) != 50 {
		t.Errorf("Expected 50 fields, got %d", len(missing))
	}
}
