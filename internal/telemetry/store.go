package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store はログエントリの永続ストア。追記と直近エントリの読み出しのみを提供する。
type Store interface {
	// Append はエントリを1件追記する。
	Append(ctx context.Context, entry LogEntry) error
	// Recent は新しい順に最大limit件のエントリを返す。
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
	// Ping はストアへの接続を確認する。
	Ping(ctx context.Context) error
	// Close は接続を閉じる。
	Close() error
}

// ErrUnknownDSN は接続文字列のスキームに対応するストアが無いことを表す。
var ErrUnknownDSN = errors.New("未対応のテレメトリ接続文字列です")

// OpenOptions はストア接続時のオプション。
type OpenOptions struct {
	// Retention はRedisストアでのエントリ保持期間。
	Retention time.Duration
	// Logger はマイグレーション等のログ出力先。
	Logger zerolog.Logger
}

// Open は接続文字列のスキームに応じたストアを開く。
// SQLストアの場合はスキーマのマイグレーションも行う。
func Open(ctx context.Context, dsn string, opts OpenOptions) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("%w: 接続文字列が空です", ErrUnknownDSN)
	case strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//")
		return OpenSQLite(ctx, path, opts.Logger)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn, opts.Logger)
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return OpenRedis(ctx, dsn, opts.Retention)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDSN, schemeOf(dsn))
	}
}

// schemeOf はログに出してよいスキーム部分のみを返す。
func schemeOf(dsn string) string {
	if i := strings.Index(dsn, ":"); i >= 0 {
		return dsn[:i]
	}
	return "(スキームなし)"
}
