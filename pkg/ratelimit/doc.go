// Package ratelimit はクライアント単位・ルートクラス単位の固定ウィンドウ方式レート制限を提供する。
//
// ウィンドウの状態はStoreが排他的に保持する。カウンタの加算と上限判定は
// 1つの不可分な操作として実行されるため、同じキーへの並行リクエストが
// 上限を超えて許可されることはない。
//
// Storeの実装:
//   - MemoryStore: プロセス内のマップで管理する（単一インスタンス向け）
//   - RedisStore: Luaスクリプトで INCR と PEXPIRE を原子的に実行する（複数インスタンス向け）
package ratelimit
