package cache

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type cachedLocation struct {
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRedisCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	c := NewRedisCache[cachedLocation](client, "geo:", quietLogger())

	lat := 5.6037
	if !c.SetIfAbsent(ctx, "1.2.3.4", cachedLocation{Country: "GH", Lat: &lat}, time.Hour) {
		t.Fatal("SetIfAbsent() = false on empty key")
	}
	if c.SetIfAbsent(ctx, "1.2.3.4", cachedLocation{Country: "NG"}, time.Hour) {
		t.Error("SetIfAbsent() = true on existing key")
	}

	got, ok := c.Get(ctx, "1.2.3.4")
	if !ok {
		t.Fatal("Get() missed")
	}
	if got.Country != "GH" || got.Lat == nil || *got.Lat != lat {
		t.Errorf("Get() = %+v, want GH with lat %v", got, lat)
	}
}

func TestRedisCache_UsesPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisCache[cachedLocation](client, "geo:", quietLogger())

	c.SetIfAbsent(ctx, "8.8.8.8", cachedLocation{Country: "US"}, time.Minute)

	if !mr.Exists("geo:8.8.8.8") {
		t.Fatal("expected prefixed key geo:8.8.8.8")
	}
	if ttl := mr.TTL("geo:8.8.8.8"); ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}

	mr.FastForward(time.Minute)
	if _, ok := c.Get(ctx, "8.8.8.8"); ok {
		t.Error("Get() returned expired entry")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	c := NewRedisCache[cachedLocation](client, "pref:", quietLogger())

	c.SetIfAbsent(ctx, "user-1", cachedLocation{Country: "GH"}, time.Minute)
	c.Delete(ctx, "user-1")
	if _, ok := c.Get(ctx, "user-1"); ok {
		t.Error("Get() after Delete returned ok")
	}
}

func TestRedisCache_FailsOpenWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisCache[cachedLocation](client, "geo:", quietLogger())
	mr.Close()

	if c.SetIfAbsent(ctx, "k", cachedLocation{Country: "GH"}, time.Minute) {
		t.Error("SetIfAbsent() = true with redis down")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() = ok with redis down")
	}
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisCache[cachedLocation](client, "geo:", quietLogger())

	if err := mr.Set("geo:bad", "{not json"); err != nil {
		t.Fatalf("miniredis Set: %v", err)
	}
	if _, ok := c.Get(ctx, "bad"); ok {
		t.Error("Get() of corrupt entry = ok, want miss")
	}
}
