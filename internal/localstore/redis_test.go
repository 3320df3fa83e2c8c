package localstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T, profile string) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), profile)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("://nope", "p"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisKeysAreNamespacedPerProfile(t *testing.T) {
	store, s := setupTestRedis(t, "alice")
	defer store.Close()
	ctx := context.Background()

	other := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}), "bob")
	defer other.Close()

	if err := store.Set(ctx, "modular-answer_a_sub_b", "<p>x</p>"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := other.Set(ctx, "modular-answer_a_sub_b", "<p>y</p>"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !s.Exists("portal:alice:kv:modular-answer_a_sub_b") {
		t.Fatal("expected namespaced raw key in redis")
	}

	value, _, _ := store.Get(ctx, "modular-answer_a_sub_b")
	if value != "<p>x</p>" {
		t.Fatalf("profile isolation broken: got %q", value)
	}

	keys, err := other.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "modular-answer_a_sub_b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestRedisKeysScansLargeNamespace(t *testing.T) {
	store, _ := setupTestRedis(t, "big")
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < scanBatch*2+7; i++ {
		if err := store.Set(ctx, fmt.Sprintf("k%04d", i), "v"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != scanBatch*2+7 {
		t.Fatalf("expected %d keys, got %d", scanBatch*2+7, len(keys))
	}
}

func TestRedisWatchSeesOtherClients(t *testing.T) {
	store, s := setupTestRedis(t, "shared")
	defer store.Close()

	tab := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}), "shared")
	defer tab.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := tab.Set(ctx, "studentInfo", `{"klasse":"8A","name":"Max Muster"}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "title_a_sub_b", "Teil B"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got []Change
	for len(got) < 2 {
		select {
		case change := <-changes:
			got = append(got, change)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for changes, got %+v", got)
		}
	}

	if got[0].Key != "studentInfo" || got[0].Local {
		t.Errorf("expected remote identity change, got %+v", got[0])
	}
	if got[1].Key != "title_a_sub_b" || !got[1].Local {
		t.Errorf("expected local title change, got %+v", got[1])
	}
}
