package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetLoadsOnceWithinTTL(t *testing.T) {
	c := New(Options{TTL: time.Minute})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "value", true, nil
	}

	for i := 0; i < 3; i++ {
		val, ok, err := c.Get(context.Background(), "k", loader)
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if val.(string) != "value" {
			t.Fatalf("got %v", val)
		}
	}
	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("loader ran %d times, want 1", n)
	}
}

func TestGetReloadsAfterExpiry(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		return atomic.AddInt32(&loads, 1), true, nil
	}

	if _, _, err := c.Get(context.Background(), "k", loader); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, _, err := c.Get(context.Background(), "k", loader); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if n := atomic.LoadInt32(&loads); n != 2 {
		t.Fatalf("loader ran %d times, want 2", n)
	}
}

func TestDeleteForcesReload(t *testing.T) {
	c := New(Options{TTL: time.Minute})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		return atomic.AddInt32(&loads, 1), true, nil
	}

	_, _, _ = c.Get(context.Background(), "k", loader)
	c.Delete("k")
	_, _, _ = c.Get(context.Background(), "k", loader)

	if n := atomic.LoadInt32(&loads); n != 2 {
		t.Fatalf("loader ran %d times, want 2", n)
	}
}

func TestNegativeCaching(t *testing.T) {
	c := New(Options{TTL: time.Minute, NegativeTTL: time.Minute})

	var loads int32
	sentinel := errors.New("not found")
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return nil, false, sentinel
	}

	for i := 0; i < 3; i++ {
		_, ok, err := c.Get(context.Background(), "missing", loader)
		if ok {
			t.Fatal("expected miss")
		}
		if !errors.Is(err, sentinel) {
			t.Fatalf("err %v, want sentinel", err)
		}
	}
	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("loader ran %d times, want 1 with negative caching", n)
	}
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 2})

	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		return key, true, nil
	}
	counting := func(calls *int32) Loader {
		return func(ctx context.Context, key string) (interface{}, bool, error) {
			atomic.AddInt32(calls, 1)
			return key, true, nil
		}
	}

	_, _, _ = c.Get(context.Background(), "a", loader)
	_, _, _ = c.Get(context.Background(), "b", loader)
	_, _, _ = c.Get(context.Background(), "c", loader)

	// "a" was evicted; fetching it loads again.
	var reloads int32
	_, _, _ = c.Get(context.Background(), "a", counting(&reloads))
	if reloads != 1 {
		t.Fatalf("expected eviction of oldest entry, reloads=%d", reloads)
	}

	// "c" is still resident.
	var fresh int32
	_, _, _ = c.Get(context.Background(), "c", counting(&fresh))
	if fresh != 0 {
		t.Fatalf("expected cache hit for newest entry, loads=%d", fresh)
	}
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c := New(Options{TTL: time.Minute})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(20 * time.Millisecond)
		return "value", true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(context.Background(), "k", loader)
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("loader ran %d times, want 1", n)
	}
}
