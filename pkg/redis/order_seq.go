package redis

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaNextSeq 自增并在首次创建时设置过期，保证 INCR 与 EXPIRE 原子。
const luaNextSeq = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return n
`

// OrderSequence 订单号：yyyyMMddHHmmss + 当日序号（至少 6 位，左补零）。
// 序号由 Redis 按自然日自增，多实例间不重复。
type OrderSequence struct {
	rdb *rd.Client
	loc *time.Location
	now func() time.Time
}

func NewOrderSequence(rdb *rd.Client, loc *time.Location) *OrderSequence {
	if loc == nil {
		loc = time.UTC
	}
	return &OrderSequence{rdb: rdb, loc: loc, now: time.Now}
}

func (s *OrderSequence) Next(ctx context.Context) (string, error) {
	now := s.now().In(s.loc)
	key := OrderSeqKey(now.Format("20060102"))
	// 过期留两天余量，跨零点的请求仍能拿到前一天的序列
	n, err := s.rdb.Eval(ctx, luaNextSeq, []string{key}, int((48 * time.Hour).Seconds())).Int64()
	if err != nil {
		return "", fmt.Errorf("incr order sequence: %w", err)
	}
	return FormatOrderNumber(now, n), nil
}

// FormatOrderNumber 拼出订单号，超过 6 位的序号原样保留。
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("%s%06d", at.Format("20060102150405"), seq)
}
