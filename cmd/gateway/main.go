// エッジゲートウェイのエントリポイント。
// auth/user/taskの各バックエンドへのルーティング、レート制限、テレメトリの記録を担当する。
// 外部からアクセス可能な唯一のサービスであり、バックエンドはゲートウェイの背後に置く。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/gateway"
	"github.com/nao1215/edgegate/internal/telemetry"
	"github.com/nao1215/edgegate/internal/tracing"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/nao1215/edgegate/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// shutdownTimeout はシグナル受信後に処理中のリクエストとテレメトリの書き込みを待つ時間。
const shutdownTimeout = 15 * time.Second

// janitorInterval はインメモリのレート制限カウンタを掃除する間隔。
const janitorInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("設定の読み込みに失敗")
	}

	logger := newLogger(cfg, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Gatewayサービスが異常終了しました")
	}
}

// run はゲートウェイを組み立てて起動し、SIGINT/SIGTERMを受けるまで待つ。
func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == config.DefaultJWTSecret {
		logger.Warn().Msg("開発用のJWTシークレットを使用しています。本番環境では GATEWAY_JWT_SECRET を設定してください")
	}

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init("edgegate", os.Stdout, component(logger, "tracing"))
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("トレーサーの停止に失敗")
			}
		}()
	}

	telemetryLogger := component(logger, "telemetry")
	store, err := telemetry.Open(ctx, cfg.TelemetryDSN, telemetry.OpenOptions{
		Retention: cfg.TelemetryRetention,
		Logger:    telemetryLogger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("テレメトリストアのクローズに失敗")
		}
	}()

	diag, err := telemetry.OpenDiagnosticLog(cfg.DiagnosticLogPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := diag.Close(); err != nil {
			logger.Warn().Err(err).Msg("診断ログのクローズに失敗")
		}
	}()

	metrics := gateway.NewMetrics(prometheus.NewRegistry())

	sink := telemetry.NewSink(store, telemetryLogger,
		telemetry.WithQueueSize(cfg.TelemetryQueueSize),
		telemetry.WithWriteTimeout(cfg.TelemetryWriteTimeout),
		telemetry.WithDiagnosticLog(diag),
		telemetry.WithCounters(metrics.TelemetryDropped, metrics.TelemetryFailed),
	)
	sink.Start(ctx)

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	forwarder := httpclient.New(
		httpclient.WithTimeout(cfg.BackendTimeout),
		httpclient.WithBreaker(httpclient.BreakerSettings{
			ConsecutiveFailures: cfg.BreakerFailures,
			Cooldown:            cfg.BreakerCooldown,
		}),
	)

	server, err := gateway.NewServer(cfg, gateway.Deps{
		Logger:    component(logger, "gateway"),
		Limiter:   limiter,
		Forwarder: forwarder,
		Recorder:  sink,
		Stats:     telemetry.NewAggregator(store, cfg.StatsWindow),
		Store:     store,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("auth", cfg.AuthServiceURL).
			Str("user", cfg.UserServiceURL).
			Str("task", cfg.TaskServiceURL).
			Str("rate_limit_backend", cfg.RateLimitBackend).
			Msg("Gatewayサービスを起動します")
		errCh <- server.Run()
	}()

	var errs []error
	select {
	case err := <-errCh:
		if err != nil {
			errs = append(errs, fmt.Errorf("Gatewayサービスの起動に失敗: %w", err))
		}
	case <-ctx.Done():
		logger.Info().Msg("停止シグナルを受信しました。シャットダウンします")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("HTTPサーバーの停止に失敗: %w", err))
	}
	// 受け付け済みのエントリを書き終えてからストアを閉じる
	if err := sink.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("テレメトリの書き込み待ちに失敗: %w", err))
	}
	return errors.Join(errs...)
}

// newLimiter は設定されたバックエンドでレート制限を生成する。返す関数で接続を解放する。
func newLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.Limiter, func(), error) {
	policies := map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassDefault: {Limit: cfg.DefaultRateLimit, Window: cfg.DefaultRateWindow},
		ratelimit.ClassAuth:    {Limit: cfg.AuthRateLimit, Window: cfg.AuthRateWindow},
	}

	if cfg.RateLimitBackend != "redis" {
		store := ratelimit.NewMemoryStore()
		store.StartJanitor(ctx, janitorInterval)
		return ratelimit.New(store, policies), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("レート制限用Redisへの接続に失敗: %w", err)
	}
	return ratelimit.New(ratelimit.NewRedisStore(client), policies), func() { _ = client.Close() }, nil
}

// newLogger は設定された形式とレベルでロガーを生成する。
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "gateway").Logger()
}

// component はcomponentフィールドを付けた子ロガーを返す。
func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
