package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

type cachedTemplate struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

func TestCacheHelperSetGet(t *testing.T) {
	helper := NewCacheHelper(testClient(t), "template:")
	ctx := context.Background()

	want := cachedTemplate{ID: 7, Title: "Midterm"}
	if err := helper.Set(ctx, "id:7", want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got cachedTemplate
	if err := helper.Get(ctx, "id:7", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if err := helper.Get(ctx, "id:8", &got); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("missing key: got %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperStrings(t *testing.T) {
	helper := NewCacheHelper(testClient(t), "exists:")
	ctx := context.Background()

	if err := helper.SetString(ctx, "bank:3", "1", time.Minute); err != nil {
		t.Fatalf("set string: %v", err)
	}
	value, err := helper.GetString(ctx, "bank:3")
	if err != nil {
		t.Fatalf("get string: %v", err)
	}
	if value != "1" {
		t.Errorf("value %q, want \"1\"", value)
	}

	if _, err := helper.GetString(ctx, "bank:4"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("missing key: got %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperDelete(t *testing.T) {
	helper := NewCacheHelper(testClient(t), "question:")
	ctx := context.Background()

	for _, key := range []string{"id:1", "id:2"} {
		if err := helper.SetString(ctx, key, "x", time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	if err := helper.Delete(ctx, "id:1", "id:2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, key := range []string{"id:1", "id:2"} {
		exists, err := helper.Exists(ctx, key)
		if err != nil {
			t.Fatalf("exists %s: %v", key, err)
		}
		if exists {
			t.Errorf("key %s survived delete", key)
		}
	}
}

func TestCacheHelperInvalidatePattern(t *testing.T) {
	helper := NewCacheHelper(testClient(t), "template:")
	ctx := context.Background()

	for _, key := range []string{"id:5", "id:5:full", "id:6", "list:recent"} {
		if err := helper.SetString(ctx, key, "x", time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	if err := helper.InvalidatePattern(ctx, "id:5*"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	for key, want := range map[string]bool{
		"id:5":        false,
		"id:5:full":   false,
		"id:6":        true,
		"list:recent": true,
	} {
		exists, err := helper.Exists(ctx, key)
		if err != nil {
			t.Fatalf("exists %s: %v", key, err)
		}
		if exists != want {
			t.Errorf("key %s exists=%v, want %v", key, exists, want)
		}
	}
}

func TestCacheOrExecute(t *testing.T) {
	helper := NewCacheHelper(testClient(t), "stats:")
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return cachedTemplate{ID: 1, Title: "Fetched"}, nil
	}

	var first cachedTemplate
	if err := helper.CacheOrExecute(ctx, "session:1", &first, time.Minute, fetch); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if calls != 1 || first.Title != "Fetched" {
		t.Fatalf("first call: calls=%d result=%+v", calls, first)
	}

	// The write-back is asynchronous; wait for it to land
	deadline := time.Now().Add(2 * time.Second)
	for {
		exists, err := helper.Exists(ctx, "session:1")
		if err != nil {
			t.Fatalf("exists: %v", err)
		}
		if exists {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cached value never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var second cachedTemplate
	if err := helper.CacheOrExecute(ctx, "session:1", &second, time.Minute, fetch); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("fetch ran %d times, want the cache to serve the second call", calls)
	}
	if second != first {
		t.Errorf("cached %+v, want %+v", second, first)
	}
}

func TestCacheManagerInvalidateTemplate(t *testing.T) {
	manager := NewCacheManager(testClient(t))
	ctx := context.Background()

	if err := manager.Template.SetString(ctx, "id:5", "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := manager.Template.SetString(ctx, "list:recent", "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := manager.InvalidateTemplate(ctx, 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	for _, key := range []string{"id:5", "list:recent"} {
		exists, err := manager.Template.Exists(ctx, key)
		if err != nil {
			t.Fatalf("exists %s: %v", key, err)
		}
		if exists {
			t.Errorf("key %s survived template invalidation", key)
		}
	}
}

func TestCacheManagerInvalidateSessionStats(t *testing.T) {
	manager := NewCacheManager(testClient(t))
	ctx := context.Background()

	if err := manager.Stats.SetString(ctx, fmt.Sprintf("session:%d", 9), "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := manager.Stats.SetString(ctx, "session:10", "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := manager.InvalidateSessionStats(ctx, 9); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	gone, err := manager.Stats.Exists(ctx, "session:9")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if gone {
		t.Error("session 9 stats survived invalidation")
	}
	kept, err := manager.Stats.Exists(ctx, "session:10")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !kept {
		t.Error("session 10 stats invalidated by mistake")
	}
}

func TestCacheDegradesWithoutClient(t *testing.T) {
	manager := NewCacheManager(nil)
	ctx := context.Background()

	if err := manager.HealthCheck(ctx); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("health check: got %v, want ErrCacheNotAvailable", err)
	}

	// Writes are no-ops, reads report unavailability
	if err := manager.Fast.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Errorf("set without client: %v", err)
	}
	var dest string
	if err := manager.Fast.Get(ctx, "k", &dest); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("get without client: got %v, want ErrCacheNotAvailable", err)
	}
}
