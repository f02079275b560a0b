package redis

import (
	"context"
	"os"
	"testing"
	"time"

	rd "github.com/redis/go-redis/v9"
)

func TestFormatOrderNumber(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := FormatOrderNumber(at, 42); got != "20240102030405000042" {
		t.Errorf("FormatOrderNumber = %q", got)
	}
	if got := FormatOrderNumber(at, 1234567); got != "202401020304051234567" {
		t.Errorf("overflowing sequence = %q", got)
	}
}

func TestKeys(t *testing.T) {
	if got := OrderSeqKey("20240102"); got != "takeout:order:seq:20240102" {
		t.Errorf("OrderSeqKey = %q", got)
	}
	if got := ReportCacheKey(3, "turnover:2024-01-01:2024-01-07"); got != "takeout:report:v3:turnover:2024-01-01:2024-01-07" {
		t.Errorf("ReportCacheKey = %q", got)
	}
	if got := RateLimitKey("submit", 7, "1.2.3.4"); got != "takeout:rate_limit:submit:user:7" {
		t.Errorf("RateLimitKey user = %q", got)
	}
	if got := RateLimitKey("submit", 0, "1.2.3.4"); got != "takeout:rate_limit:submit:ip:1.2.3.4" {
		t.Errorf("RateLimitKey ip = %q", got)
	}
}

// liveClient 需要本地 Redis，设置 REDIS_TEST_ADDR 才运行。
func liveClient(t *testing.T) *rd.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := rd.NewClient(&rd.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestOrderSequenceLive(t *testing.T) {
	rdb := liveClient(t)
	seq := NewOrderSequence(rdb, time.UTC)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	seq.now = func() time.Time { return fixed }

	ctx := context.Background()
	first, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first != "20240102030405000001" || second != "20240102030405000002" {
		t.Errorf("numbers = %q, %q", first, second)
	}
}

func TestReportCacheLive(t *testing.T) {
	rdb := liveClient(t)
	cache := NewReportCache(rdb, time.Minute)
	ctx := context.Background()

	type payload struct{ Dates []string }
	v0, err := cache.Version(ctx)
	if err != nil || v0 != 0 {
		t.Fatalf("Version = %d %v", v0, err)
	}
	if err := cache.Store(ctx, v0, "turnover", payload{Dates: []string{"2024-01-01"}}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	var got payload
	ok, err := cache.Load(ctx, v0, "turnover", &got)
	if err != nil || !ok || len(got.Dates) != 1 {
		t.Fatalf("Load = %v %v %+v", ok, err, got)
	}

	if err := cache.BumpVersion(ctx); err != nil {
		t.Fatalf("BumpVersion: %v", err)
	}
	v1, err := cache.Version(ctx)
	if err != nil || v1 != v0+1 {
		t.Fatalf("Version after bump = %d %v", v1, err)
	}
	ok, err = cache.Load(ctx, v1, "turnover", &got)
	if err != nil || ok {
		t.Errorf("after bump Load = %v %v, want miss", ok, err)
	}
}
