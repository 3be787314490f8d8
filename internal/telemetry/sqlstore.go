package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/edgegate/pkg/migration"
	"github.com/rs/zerolog"

	// PostgreSQLドライバー（pgx）
	_ "github.com/jackc/pgx/v5/stdlib"
	// SQLiteドライバー
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialect はSQLiteとPostgreSQLのプレースホルダーの違いを吸収する。
type dialect struct {
	// name は方言の名前。
	name string
	// driver はdatabase/sqlのドライバー名。
	driver string
	// numbered は $1, $2 形式のプレースホルダーを使うかどうか。
	numbered bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite"}
	postgresDialect = dialect{name: "postgres", driver: "pgx", numbered: true}
)

// Rebind は ? プレースホルダーを方言の形式に変換する。
func (d dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	n := 1
	for _, r := range query {
		if r == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore はdatabase/sqlで接続したSQLite/PostgreSQLにログエントリを保存するストア。
type SQLStore struct {
	// db はデータベース接続。
	db *sql.DB
	// dialect はSQLの方言。
	dialect dialect
}

// OpenSQLite はSQLiteのストアを開く。path に ":memory:" を指定するとインメモリDBになる。
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("SQLiteの接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// 接続ごとに別のDBになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}
	return newSQLStore(ctx, db, sqliteDialect, logger)
}

// OpenPostgres はPostgreSQLのストアを開く。
func OpenPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("PostgreSQLの接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(ctx, db, postgresDialect, logger)
}

// newSQLStore は接続を確認してマイグレーションを適用する。
func newSQLStore(ctx context.Context, db *sql.DB, d dialect, logger zerolog.Logger) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%sへの接続確認に失敗: %w", d.name, err)
	}
	if err := migration.Run(ctx, db, d, migrationsFS, "migrations", logger.With().Str("dialect", d.name).Logger()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%sのマイグレーションに失敗: %w", d.name, err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// Append はエントリを1件追記する。
func (s *SQLStore) Append(ctx context.Context, entry LogEntry) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO request_logs (id, recorded_at, method, path, endpoint_group, status, duration_seconds, user_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID,
		entry.Timestamp.UTC().UnixMicro(),
		entry.Method,
		entry.Path,
		entry.EndpointGroup,
		entry.Status,
		entry.DurationSeconds,
		entry.User,
	)
	if err != nil {
		return fmt.Errorf("ログエントリの保存に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件のエントリを返す。
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT id, recorded_at, method, path, endpoint_group, status, duration_seconds, user_name
		FROM request_logs
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("ログエントリの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]LogEntry, 0)
	for rows.Next() {
		var (
			e          LogEntry
			recordedAt int64
		)
		if err := rows.Scan(&e.ID, &recordedAt, &e.Method, &e.Path, &e.EndpointGroup, &e.Status, &e.DurationSeconds, &e.User); err != nil {
			return nil, fmt.Errorf("ログエントリの読み取りに失敗: %w", err)
		}
		e.Timestamp = time.UnixMicro(recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ログエントリの読み取りに失敗: %w", err)
	}
	return entries, nil
}

// Ping はデータベースへの接続を確認する。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close は接続を閉じる。
func (s *SQLStore) Close() error {
	return s.db.Close()
}
