package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redisストアのキー。
const (
	redisTimelineKey  = "telemetry:timeline"
	redisEntryKeyBase = "telemetry:log:"
)

// DefaultRetention はRedisストアのデフォルトの保持期間。
const DefaultRetention = 30 * 24 * time.Hour

// RedisStore はRedisにログエントリを保存するストア。
// エントリ本体はIDごとのキーにJSONで保存し、記録日時をスコアとするソート済みセットで順序を持つ。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
	// retention はエントリの保持期間。
	retention time.Duration
}

// OpenRedis はURLからRedisストアを開き、接続を確認する。
func OpenRedis(ctx context.Context, url string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("RedisのURLの解析に失敗: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続確認に失敗: %w", err)
	}
	return NewRedisStore(client, retention), nil
}

// NewRedisStore は接続済みのクライアントからRedisストアを生成する。
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention}
}

// Append はエントリを保存し、タイムラインから保持期間を過ぎたIDを取り除く。
func (s *RedisStore) Append(ctx context.Context, entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ログエントリのシリアライズに失敗: %w", err)
	}

	cutoff := entry.Timestamp.Add(-s.retention).UnixMicro()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisEntryKeyBase+entry.ID, data, s.retention)
		pipe.ZAdd(ctx, redisTimelineKey, redis.Z{
			Score:  float64(entry.Timestamp.UnixMicro()),
			Member: entry.ID,
		})
		pipe.ZRemRangeByScore(ctx, redisTimelineKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, redisTimelineKey, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ログエントリの保存に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件のエントリを返す。期限切れで本体が消えたIDは読み飛ばす。
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	entries := make([]LogEntry, 0)
	if limit <= 0 {
		return entries, nil
	}

	ids, err := s.client.ZRevRange(ctx, redisTimelineKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗: %w", err)
	}
	if len(ids) == 0 {
		return entries, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisEntryKeyBase + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ログエントリの取得に失敗: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping はRedisへの接続を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
