package order

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// NumberGenerator 生成对外展示的订单号，必须全局唯一。
type NumberGenerator interface {
	Next(ctx context.Context) (string, error)
}

// RandomNumbers 秒级时间戳 + 6 位随机数。未启用 Redis 序列时使用，冲突由 number 唯一索引兜底。
type RandomNumbers struct {
	Now func() time.Time
}

func (g RandomNumbers) Next(context.Context) (string, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("order number suffix: %w", err)
	}
	return fmt.Sprintf("%s%06d", now().Format("20060102150405"), n.Int64()), nil
}
