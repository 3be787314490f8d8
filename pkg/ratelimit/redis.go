package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript はカウンタの加算と初回の有効期限設定を原子的に行う。
// 有効期限が失われたキー（PTTL < 0）にも有効期限を設定し直す。
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore はRedisでウィンドウを管理するStore。
// ウィンドウの期限切れはキーの有効期限で表現する。
type RedisStore struct {
	// client はRedisクライアント。
	client redis.Scripter
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// Increment はRedis上のカウンタを1加算し、加算後の状態を返す。
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("Redisスクリプトの実行に失敗: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("Redisスクリプトの戻り値が不正: %v", res)
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	start := now.Add(ttl - window)

	return Window{Start: start, Count: int(res[0])}, nil
}
