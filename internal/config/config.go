// Package config はゲートウェイの設定を環境変数と任意のYAMLファイルから読み込む。
//
// 環境変数はすべて GATEWAY_ 接頭辞を持ち、接頭辞を除いて小文字にした名前が設定キーになる
// （例: GATEWAY_JWT_SECRET → jwt_secret）。YAMLファイルは同じキー名で記述し、
// 同じキーが両方にある場合は環境変数が優先される。
// 読み込んだ Config は起動後に変更せず、必要なコンポーネントへ明示的に渡す。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix は設定用環境変数の接頭辞。
const EnvPrefix = "GATEWAY_"

// DefaultJWTSecret はローカル開発用のJWTシークレット。本番環境では必ず上書きする。
const DefaultJWTSecret = "dev-secret-change-me"

// Config はゲートウェイ全体の設定。
type Config struct {
	// Port はリッスンするポート番号。
	Port string `koanf:"port" validate:"required,numeric"`
	// JWTSecret はベアラートークン検証用のHS256共有シークレット。
	JWTSecret string `koanf:"jwt_secret" validate:"required"`

	// AuthServiceURL はauthバックエンドのベースURL。
	AuthServiceURL string `koanf:"auth_service_url" validate:"required,url"`
	// UserServiceURL はuserバックエンドのベースURL。
	UserServiceURL string `koanf:"user_service_url" validate:"required,url"`
	// TaskServiceURL はtaskバックエンドのベースURL。
	TaskServiceURL string `koanf:"task_service_url" validate:"required,url"`
	// BackendTimeout はバックエンド呼び出しのタイムアウト。
	BackendTimeout time.Duration `koanf:"backend_timeout" validate:"gt=0"`
	// BreakerFailures はサーキットを開く連続通信失敗回数。0で無効。
	BreakerFailures uint32 `koanf:"breaker_failures"`
	// BreakerCooldown はサーキットが開いてから再試行するまでの時間。
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`

	// TelemetryDSN はテレメトリ永続ストアの接続文字列。スキームでストアの種類を選択する。
	TelemetryDSN string `koanf:"telemetry_dsn" validate:"required"`
	// TelemetryQueueSize はテレメトリ書き込みキューの容量。
	TelemetryQueueSize int `koanf:"telemetry_queue_size" validate:"gt=0"`
	// TelemetryWriteTimeout は永続ストアへの1件あたりの書き込みタイムアウト。
	TelemetryWriteTimeout time.Duration `koanf:"telemetry_write_timeout" validate:"gt=0"`
	// TelemetryRetention はRedisストアでのエントリ保持期間。
	TelemetryRetention time.Duration `koanf:"telemetry_retention" validate:"gt=0"`
	// DiagnosticLogPath は診断用のローカル追記ファイルのパス。
	DiagnosticLogPath string `koanf:"diagnostic_log_path" validate:"required"`
	// StatsWindow は統計エンドポイントが読み込む直近のエントリ数。
	StatsWindow int `koanf:"stats_window" validate:"gt=0,lte=100000"`

	// RateLimitBackend はレート制限のカウンターを保持する場所（memory または redis）。
	RateLimitBackend string `koanf:"rate_limit_backend" validate:"oneof=memory redis"`
	// RedisURL はRedisの接続URL。RateLimitBackendが redis の場合に必須。
	RedisURL string `koanf:"redis_url" validate:"required_if=RateLimitBackend redis"`
	// DefaultRateLimit はデフォルト区分のウィンドウあたりの上限。
	DefaultRateLimit int `koanf:"default_rate_limit" validate:"gt=0"`
	// DefaultRateWindow はデフォルト区分のウィンドウ長。
	DefaultRateWindow time.Duration `koanf:"default_rate_window" validate:"gt=0"`
	// AuthRateLimit は認証区分のウィンドウあたりの上限。
	AuthRateLimit int `koanf:"auth_rate_limit" validate:"gt=0"`
	// AuthRateWindow は認証区分のウィンドウ長。
	AuthRateWindow time.Duration `koanf:"auth_rate_window" validate:"gt=0"`

	// CORSAllowedOrigins はCORSで許可するオリジン。
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシ。空の場合は接続元アドレスを使う。
	TrustedProxies []string `koanf:"trusted_proxies"`

	// LogLevel はログレベル。
	LogLevel string `koanf:"log_level" validate:"oneof=trace debug info warn error"`
	// LogFormat はログの出力形式（json または console）。
	LogFormat string `koanf:"log_format" validate:"oneof=json console"`
	// TracingEnabled はOpenTelemetryのトレース出力を有効にするかどうか。
	TracingEnabled bool `koanf:"tracing_enabled"`
}

// defaults は未設定のキーに適用する値。
var defaults = map[string]any{
	"port":                    "5000",
	"jwt_secret":              DefaultJWTSecret,
	"auth_service_url":        "http://localhost:5001",
	"user_service_url":        "http://localhost:5002",
	"task_service_url":        "http://localhost:5003",
	"backend_timeout":         "10s",
	"breaker_failures":        0,
	"breaker_cooldown":        "30s",
	"telemetry_queue_size":    1024,
	"telemetry_write_timeout": "5s",
	"telemetry_retention":     "720h",
	"diagnostic_log_path":     "apigateway.log",
	"stats_window":            10000,
	"rate_limit_backend":      "memory",
	"default_rate_limit":      500,
	"default_rate_window":     "1h",
	"auth_rate_limit":         100,
	"auth_rate_window":        "1m",
	"cors_allowed_origins":    "http://localhost:4200,https://appseg.vercel.app",
	"trusted_proxies":         "",
	"log_level":               "info",
	"log_format":              "json",
	"tracing_enabled":         false,
}

// Load はカレントディレクトリの .env、GATEWAY_CONFIG_FILE で指定されたYAMLファイル、
// 環境変数の順に設定を読み込み、検証して返す。
// GATEWAY_TELEMETRY_DSN が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("デフォルト値 %s の設定に失敗: %w", key, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	cfg.CORSAllowedOrigins = compact(cfg.CORSAllowedOrigins)
	cfg.TrustedProxies = compact(cfg.TrustedProxies)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

// Addr はリッスンアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}

// compact は前後の空白を除き、空の要素を取り除く。
func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
