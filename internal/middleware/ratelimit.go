package middleware

import (
	"fmt"
	"net/http"
	"time"

	rediskey "takeout/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳，ARGV[2]=窗口开始时间戳，ARGV[3]=窗口秒数
// 返回：当前窗口内的请求数（如果 >= limit 则返回 -1 表示限流）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

-- 删除窗口外的旧记录
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

-- 统计当前窗口内的请求数
local count = redis.call('ZCARD', key)

-- 添加当前请求（如果还没超限）
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit Redis 分布式限流（Lua 原子操作 + 按登录用户）。须挂在 RequireAuth 之后。
// rdb 为 nil（未启用 Redis）时不限流。
func RedisRateLimit(rdb *rd.Client, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		// 未登录的请求按 IP 限流
		key := rediskey.RateLimitKey(scope, UserID(c), c.ClientIP())

		now := time.Now()
		windowSec := int64(window.Seconds())
		windowStart := now.Unix() - windowSec
		member := fmt.Sprintf("%d-%d", now.Unix(), now.UnixNano())

		// Lua 原子操作：删除旧记录 + 统计 + 添加 + 设置过期
		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.Unix(), windowStart, windowSec, member, limit).Int()

		if err != nil {
			// Redis 出错时放行（降级策略）
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
