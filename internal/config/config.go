package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr    string
	CORSOrigins []string

	LogLevel  string
	LogFormat string // json | text

	// DBDriver 为 sqlite 时 DBDSN 是文件路径，为 mysql 时是完整 DSN。
	DBDriver string
	DBDSN    string

	RedisEnabled bool
	RedisAddr    string
	RedisDB      int

	// KafkaOn=false 时关闭事件投递，outbox 只落库不转发。
	KafkaOn      bool
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	RelayInterval  time.Duration
	RelayBatchSize int

	// 下单 / 支付接口按用户限流
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
	ReportCacheTTL   time.Duration

	JWTSecret string
	// 支付回调共享令牌，网关回调时放在 X-Notify-Token 头里
	PayNotifyToken string

	PaymentBaseURL string
	PaymentAPIKey  string
	PaymentTimeout time.Duration
	PaymentRetries int
	// PaymentMock 为 true 时不请求网关，发起支付即视为支付成功。
	PaymentMock bool

	// 统计按该时区切分自然日
	Location *time.Location
}

// Load 读取并校验配置，缺失时使用默认值。工作目录下存在 .env 时先加载它。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := AppConfig{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "http://localhost:8888")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite"),
		DBDSN:            getEnv("DB_DSN", "takeout.db"),
		RedisEnabled:     true,
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          0,
		KafkaOn:          true,
		KafkaBrokers:     splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "takeout.order-events"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "takeout-order-events"),
		RelayInterval:    time.Second,
		RelayBatchSize:   64,
		SubmitRateLimit:  20,
		SubmitRateWindow: 10 * time.Second,
		ReportCacheTTL:   5 * time.Minute,
		JWTSecret:        getEnv("JWT_SECRET", ""),
		PayNotifyToken:   getEnv("PAY_NOTIFY_TOKEN", "dev-notify-token"),
		PaymentBaseURL:   strings.TrimRight(getEnv("PAYMENT_BASE_URL", ""), "/"),
		PaymentAPIKey:    getEnv("PAYMENT_API_KEY", ""),
		PaymentTimeout:   5 * time.Second,
		PaymentRetries:   2,
		PaymentMock:      true,
	}

	var err error
	if cfg.RedisEnabled, err = getEnvBool("REDIS_ENABLED", cfg.RedisEnabled); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_ENABLED: %w", err)
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.KafkaOn, err = getEnvBool("KAFKA_ENABLED", cfg.KafkaOn); err != nil {
		return AppConfig{}, fmt.Errorf("invalid KAFKA_ENABLED: %w", err)
	}
	if cfg.PaymentMock, err = getEnvBool("PAYMENT_MOCK", cfg.PaymentMock); err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAYMENT_MOCK: %w", err)
	}

	rateLimit, err := getEnvInt("SUBMIT_RATE_LIMIT", cfg.SubmitRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SUBMIT_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("SUBMIT_RATE_LIMIT must be > 0")
	}
	cfg.SubmitRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("SUBMIT_RATE_WINDOW_SEC", int(cfg.SubmitRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SUBMIT_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("SUBMIT_RATE_WINDOW_SEC must be > 0")
	}
	cfg.SubmitRateWindow = time.Duration(rateWindowSec) * time.Second

	cacheTTLSec, err := getEnvInt("REPORT_CACHE_TTL_SEC", int(cfg.ReportCacheTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REPORT_CACHE_TTL_SEC: %w", err)
	}
	if cacheTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("REPORT_CACHE_TTL_SEC must be > 0")
	}
	cfg.ReportCacheTTL = time.Duration(cacheTTLSec) * time.Second

	relayMS, err := getEnvInt("RELAY_INTERVAL_MS", int(cfg.RelayInterval.Milliseconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RELAY_INTERVAL_MS: %w", err)
	}
	if relayMS <= 0 {
		return AppConfig{}, fmt.Errorf("RELAY_INTERVAL_MS must be > 0")
	}
	cfg.RelayInterval = time.Duration(relayMS) * time.Millisecond

	if cfg.RelayBatchSize, err = getEnvInt("RELAY_BATCH_SIZE", cfg.RelayBatchSize); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RELAY_BATCH_SIZE: %w", err)
	}
	if cfg.RelayBatchSize <= 0 {
		return AppConfig{}, fmt.Errorf("RELAY_BATCH_SIZE must be > 0")
	}

	timeoutMS, err := getEnvInt("PAYMENT_TIMEOUT_MS", int(cfg.PaymentTimeout.Milliseconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAYMENT_TIMEOUT_MS: %w", err)
	}
	if timeoutMS <= 0 {
		return AppConfig{}, fmt.Errorf("PAYMENT_TIMEOUT_MS must be > 0")
	}
	cfg.PaymentTimeout = time.Duration(timeoutMS) * time.Millisecond

	if cfg.PaymentRetries, err = getEnvInt("PAYMENT_RETRIES", cfg.PaymentRetries); err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAYMENT_RETRIES: %w", err)
	}
	if cfg.PaymentRetries < 0 {
		return AppConfig{}, fmt.Errorf("PAYMENT_RETRIES must be >= 0")
	}

	loc, err := time.LoadLocation(getEnv("TZ_NAME", "Asia/Shanghai"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TZ_NAME: %w", err)
	}
	cfg.Location = loc

	switch cfg.DBDriver {
	case "sqlite", "mysql":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		return AppConfig{}, fmt.Errorf("DB_DSN must not be empty")
	}
	if cfg.JWTSecret == "" {
		return AppConfig{}, fmt.Errorf("JWT_SECRET must not be empty")
	}
	if cfg.PayNotifyToken == "" {
		return AppConfig{}, fmt.Errorf("PAY_NOTIFY_TOKEN must not be empty")
	}
	if !cfg.PaymentMock && cfg.PaymentBaseURL == "" {
		return AppConfig{}, fmt.Errorf("PAYMENT_BASE_URL is required when PAYMENT_MOCK=false")
	}
	if cfg.KafkaOn {
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.KafkaGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
	}

	return cfg, nil
}

// KafkaEnabled 是否启用 relay 与 consumer。
func (c AppConfig) KafkaEnabled() bool { return c.KafkaOn && len(c.KafkaBrokers) > 0 }

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvBool 读取布尔环境变量（true/false/1/0），若为空则返回默认值。
func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
