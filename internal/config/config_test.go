package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if !cfg.PaymentMock {
		t.Error("PaymentMock should default to true")
	}
	if cfg.SubmitRateWindow != 10*time.Second {
		t.Errorf("SubmitRateWindow = %v, want 10s", cfg.SubmitRateWindow)
	}
	if cfg.Location == nil || cfg.Location.String() != "Asia/Shanghai" {
		t.Errorf("Location = %v, want Asia/Shanghai", cfg.Location)
	}
	if !cfg.KafkaEnabled() {
		t.Error("kafka should be enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("REDIS_ENABLED", "0")
	t.Setenv("SUBMIT_RATE_LIMIT", "3")
	t.Setenv("PAYMENT_TIMEOUT_MS", "1500")
	t.Setenv("TZ_NAME", "UTC")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.KafkaEnabled() {
		t.Error("KAFKA_ENABLED=false should disable kafka")
	}
	if cfg.RedisEnabled {
		t.Error("REDIS_ENABLED=0 should disable redis")
	}
	if cfg.SubmitRateLimit != 3 {
		t.Errorf("SubmitRateLimit = %d, want 3", cfg.SubmitRateLimit)
	}
	if cfg.PaymentTimeout != 1500*time.Millisecond {
		t.Errorf("PaymentTimeout = %v, want 1.5s", cfg.PaymentTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing jwt secret", map[string]string{}, "JWT_SECRET"},
		{"bad rate limit", map[string]string{"JWT_SECRET": "s", "SUBMIT_RATE_LIMIT": "0"}, "SUBMIT_RATE_LIMIT"},
		{"non numeric window", map[string]string{"JWT_SECRET": "s", "SUBMIT_RATE_WINDOW_SEC": "abc"}, "SUBMIT_RATE_WINDOW_SEC"},
		{"unknown driver", map[string]string{"JWT_SECRET": "s", "DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"real gateway without url", map[string]string{"JWT_SECRET": "s", "PAYMENT_MOCK": "false"}, "PAYMENT_BASE_URL"},
		{"bad time zone", map[string]string{"JWT_SECRET": "s", "TZ_NAME": "Mars/Olympus"}, "TZ_NAME"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error mentioning %s", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %s", err, tc.want)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b,c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("splitCSV = %v", got)
	}
}
