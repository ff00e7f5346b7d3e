package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return NewRedisDeduper(rc, time.Hour), mr
}

func TestDeduperAdd(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	added, err := d.Add(ctx, "alice", "key-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !added {
		t.Fatal("first Add should report a new key")
	}

	added, err = d.Add(ctx, "alice", "key-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added {
		t.Fatal("second Add should report a duplicate")
	}
}

func TestDeduperKeysAreScopedToActor(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	if _, err := d.Add(ctx, "alice", "key-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	added, err := d.Add(ctx, "bob", "key-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !added {
		t.Fatal("the same key from another actor should not collide")
	}
}

func TestDeduperRemoveAllowsRetry(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	if _, err := d.Add(ctx, "alice", "key-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Remove(ctx, "alice", "key-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	added, err := d.Add(ctx, "alice", "key-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !added {
		t.Fatal("a removed key should be addable again")
	}
}

func TestDeduperKeysExpire(t *testing.T) {
	d, mr := newTestDeduper(t)
	ctx := context.Background()

	if _, err := d.Add(ctx, "alice", "key-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	added, err := d.Add(ctx, "alice", "key-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !added {
		t.Fatal("an expired key should be addable again")
	}
}
