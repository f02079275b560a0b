package redis

import "fmt"

const keyPrefix = "takeout"

// OrderSeqKey 按自然日区分的订单号自增序列。
func OrderSeqKey(day string) string {
	return fmt.Sprintf("%s:order:seq:%s", keyPrefix, day)
}

// ReportVersionKey 报表缓存版本号，订单事件到达时自增，使旧缓存整体失效。
func ReportVersionKey() string {
	return keyPrefix + ":report:version"
}

// ReportCacheKey 某个版本下某张报表的缓存。
func ReportCacheKey(version int64, name string) string {
	return fmt.Sprintf("%s:report:v%d:%s", keyPrefix, version, name)
}

// RateLimitKey 按用户限流；匿名请求按 IP。
func RateLimitKey(scope string, userID int64, ip string) string {
	if userID > 0 {
		return fmt.Sprintf("%s:rate_limit:%s:user:%d", keyPrefix, scope, userID)
	}
	return fmt.Sprintf("%s:rate_limit:%s:ip:%s", keyPrefix, scope, ip)
}
