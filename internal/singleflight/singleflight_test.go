package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo(t *testing.T) {
	g := New[string]()

	val, err, shared := g.Do(context.Background(), "key1", func() (string, error) {
		return "hello", nil
	})

	if err != nil {
		t.Errorf("Do() returned error: %v", err)
	}
	if val != "hello" {
		t.Errorf("Do() returned %v, want hello", val)
	}
	if shared {
		t.Error("Expected a lone call not to be shared")
	}
	if g.InFlight("key1") {
		t.Error("Expected key to be forgotten after the call")
	}
}

func TestDoError(t *testing.T) {
	g := New[int]()
	expectedErr := errors.New("test error")

	val, err, _ := g.Do(context.Background(), "key1", func() (int, error) {
		return 0, expectedErr
	})

	if err != expectedErr {
		t.Errorf("Do() returned error %v, want %v", err, expectedErr)
	}
	if val != 0 {
		t.Errorf("Do() returned %v, want 0", val)
	}
}

func TestDoDuplicateCalls(t *testing.T) {
	g := New[string]()

	var calls int32
	release := make(chan struct{})
	fn := func() (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "token", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan string, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, _, _ := g.Do(context.Background(), "k", fn)
		results <- v
	}()

	// Wait for the leader to register before starting the waiters.
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, _ := g.Do(context.Background(), "k", fn)
			results <- v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != "token" {
			t.Errorf("Expected token, got %q", v)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected fn to run once, ran %d times", got)
	}
}

func TestDoDifferentKeys(t *testing.T) {
	g := New[int]()

	var calls int32
	for _, key := range []string{"a", "b", "c"} {
		_, _, _ = g.Do(context.Background(), key, func() (int, error) {
			atomic.AddInt32(&calls, 1)
			return 1, nil
		})
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoRunsAgainAfterCompletion(t *testing.T) {
	g := New[int]()

	var calls int
	for i := 0; i < 2; i++ {
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			calls++
			return calls, nil
		})
	}
	if calls != 2 {
		t.Errorf("Expected sequential calls to each run fn, got %d", calls)
	}
}

func TestWaiterContextCancelled(t *testing.T) {
	g := New[string]()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = g.Do(context.Background(), "k", func() (string, error) {
			<-release
			return "late", nil
		})
	}()
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err, shared := g.Do(ctx, "k", func() (string, error) {
		t.Error("waiter must not run fn")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !shared {
		t.Error("Expected the waiter to report a shared call")
	}

	close(release)
	<-done
}
