package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// ReportCache 报表结果缓存。键里带版本号，BumpVersion 之后旧键自然过期，不需要逐个删除。
type ReportCache struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewReportCache(rdb *rd.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{rdb: rdb, ttl: ttl}
}

// Version 当前缓存版本，未设置时为 0。
func (c *ReportCache) Version(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, ReportVersionKey()).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read report version: %w", err)
	}
	return v, nil
}

// Load 命中时把缓存 JSON 解到 dest。
func (c *ReportCache) Load(ctx context.Context, version int64, name string, dest any) (bool, error) {
	b, err := c.rdb.Get(ctx, ReportCacheKey(version, name)).Bytes()
	if errors.Is(err, rd.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read report cache: %w", err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, fmt.Errorf("decode report cache: %w", err)
	}
	return true, nil
}

// Store 写在调用方构建前读到的版本下。
func (c *ReportCache) Store(ctx context.Context, version int64, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode report cache: %w", err)
	}
	return c.rdb.Set(ctx, ReportCacheKey(version, name), b, c.ttl).Err()
}

// BumpVersion 订单状态变化后调用，后续读取全部落到新版本。
func (c *ReportCache) BumpVersion(ctx context.Context) error {
	return c.rdb.Incr(ctx, ReportVersionKey()).Err()
}
