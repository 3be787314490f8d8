package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestLoad は設定の読み込みを検証する。
// t.Setenvを使うため並列実行しない。
func TestLoad(t *testing.T) {
	t.Run("DSN以外はデフォルト値で起動できること", func(t *testing.T) {
		t.Setenv("GATEWAY_TELEMETRY_DSN", "sqlite::memory:")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}

		if cfg.Port != "5000" {
			t.Errorf("Port = %q, want %q", cfg.Port, "5000")
		}
		if cfg.Addr() != ":5000" {
			t.Errorf("Addr() = %q, want %q", cfg.Addr(), ":5000")
		}
		if cfg.AuthServiceURL != "http://localhost:5001" {
			t.Errorf("AuthServiceURL = %q", cfg.AuthServiceURL)
		}
		if cfg.TaskServiceURL != "http://localhost:5003" {
			t.Errorf("TaskServiceURL = %q", cfg.TaskServiceURL)
		}
		if cfg.BackendTimeout != 10*time.Second {
			t.Errorf("BackendTimeout = %v, want 10s", cfg.BackendTimeout)
		}
		if cfg.DefaultRateLimit != 500 || cfg.DefaultRateWindow != time.Hour {
			t.Errorf("デフォルト区分 = %d/%v, want 500/1h", cfg.DefaultRateLimit, cfg.DefaultRateWindow)
		}
		if cfg.AuthRateLimit != 100 || cfg.AuthRateWindow != time.Minute {
			t.Errorf("認証区分 = %d/%v, want 100/1m", cfg.AuthRateLimit, cfg.AuthRateWindow)
		}
		if cfg.TelemetryWriteTimeout != 5*time.Second {
			t.Errorf("TelemetryWriteTimeout = %v, want 5s", cfg.TelemetryWriteTimeout)
		}
		if cfg.StatsWindow != 10000 {
			t.Errorf("StatsWindow = %d, want 10000", cfg.StatsWindow)
		}
		if cfg.RateLimitBackend != "memory" {
			t.Errorf("RateLimitBackend = %q, want %q", cfg.RateLimitBackend, "memory")
		}
		want := []string{"http://localhost:4200", "https://appseg.vercel.app"}
		if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
			t.Errorf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, want)
		}
		if len(cfg.TrustedProxies) != 0 {
			t.Errorf("TrustedProxies = %v, want empty", cfg.TrustedProxies)
		}
	})

	t.Run("DSNが未設定の場合はエラーになること", func(t *testing.T) {
		t.Setenv("GATEWAY_TELEMETRY_DSN", "")
		os.Unsetenv("GATEWAY_TELEMETRY_DSN")

		_, err := Load()
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
		if !strings.Contains(err.Error(), "TelemetryDSN") {
			t.Errorf("error = %v, want TelemetryDSNの検証エラー", err)
		}
	})

	t.Run("環境変数で値を上書きできること", func(t *testing.T) {
		t.Setenv("GATEWAY_TELEMETRY_DSN", "postgres://gw:pw@db:5432/gateway")
		t.Setenv("GATEWAY_PORT", "8080")
		t.Setenv("GATEWAY_AUTH_RATE_LIMIT", "5")
		t.Setenv("GATEWAY_AUTH_RATE_WINDOW", "30s")
		t.Setenv("GATEWAY_TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2")
		t.Setenv("GATEWAY_BREAKER_FAILURES", "3")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Port != "8080" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8080")
		}
		if cfg.AuthRateLimit != 5 || cfg.AuthRateWindow != 30*time.Second {
			t.Errorf("認証区分 = %d/%v, want 5/30s", cfg.AuthRateLimit, cfg.AuthRateWindow)
		}
		if cfg.BreakerFailures != 3 {
			t.Errorf("BreakerFailures = %d, want 3", cfg.BreakerFailures)
		}
		want := []string{"10.0.0.1", "10.0.0.2"}
		if !reflect.DeepEqual(cfg.TrustedProxies, want) {
			t.Errorf("TrustedProxies = %v, want %v", cfg.TrustedProxies, want)
		}
	})

	t.Run("YAMLファイルより環境変数が優先されること", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gateway.yaml")
		content := "telemetry_dsn: sqlite:/var/lib/gateway/telemetry.db\nport: 7000\nuser_service_url: http://users.internal:8000\nlog_level: debug\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("設定ファイルの作成に失敗: %v", err)
		}
		t.Setenv("GATEWAY_CONFIG_FILE", path)
		t.Setenv("GATEWAY_PORT", "9000")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Port != "9000" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9000")
		}
		if cfg.UserServiceURL != "http://users.internal:8000" {
			t.Errorf("UserServiceURL = %q, want %q", cfg.UserServiceURL, "http://users.internal:8000")
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
		}
		if cfg.TelemetryDSN != "sqlite:/var/lib/gateway/telemetry.db" {
			t.Errorf("TelemetryDSN = %q", cfg.TelemetryDSN)
		}
	})

	t.Run("redisバックエンドでREDIS_URLが無い場合はエラーになること", func(t *testing.T) {
		t.Setenv("GATEWAY_TELEMETRY_DSN", "sqlite::memory:")
		t.Setenv("GATEWAY_RATE_LIMIT_BACKEND", "redis")

		if _, err := Load(); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("不正な値はエラーになること", func(t *testing.T) {
		tests := []struct {
			key   string
			value string
		}{
			{key: "GATEWAY_LOG_FORMAT", value: "xml"},
			{key: "GATEWAY_RATE_LIMIT_BACKEND", value: "memcached"},
			{key: "GATEWAY_AUTH_SERVICE_URL", value: "not a url"},
			{key: "GATEWAY_STATS_WINDOW", value: "0"},
		}
		for _, tt := range tests {
			t.Run(tt.key, func(t *testing.T) {
				t.Setenv("GATEWAY_TELEMETRY_DSN", "sqlite::memory:")
				t.Setenv(tt.key, tt.value)

				if _, err := Load(); err == nil {
					t.Errorf("%s=%q でエラーが返されなかった", tt.key, tt.value)
				}
			})
		}
	})
}
