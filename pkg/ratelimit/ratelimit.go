package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Class はレート制限ポリシーを共有するルートの集合を表す。
type Class string

const (
	// ClassDefault は全ルートに適用される緩い上限のクラス。
	ClassDefault Class = "default"
	// ClassAuth は認証ルートにのみ適用される厳しい上限のクラス。
	ClassAuth Class = "auth"
	// ClassNone はレート制限を適用しないクラス。
	ClassNone Class = ""
)

// Policy はウィンドウあたりの許可数とウィンドウ長を表す。
type Policy struct {
	// Limit はウィンドウ内で許可するリクエスト数。
	Limit int
	// Window はウィンドウ長。
	Window time.Duration
}

// Window は1つのキーに対するウィンドウの状態。
type Window struct {
	// Start はウィンドウの開始時刻。
	Start time.Time
	// Count はウィンドウ内で受け付けたリクエスト数（今回のリクエストを含む）。
	Count int
}

// Decision はアドミッション判定の結果。
type Decision struct {
	// Allowed はリクエストを転送してよいかどうか。
	Allowed bool
	// Limit は適用されたポリシーの上限。
	Limit int
	// Remaining はウィンドウ内で残っている許可数。
	Remaining int
	// ResetAfter は現在のウィンドウがリセットされるまでの時間。
	ResetAfter time.Duration
}

// Store はウィンドウカウンタを保持するバックエンド。
// Increment はウィンドウの期限切れ判定・リセット・加算を不可分に行い、加算後の状態を返す。
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
}

// Limiter はルートクラスごとのポリシーに従ってアドミッション判定を行う。
type Limiter struct {
	// store はウィンドウカウンタの保持先。
	store Store
	// policies はクラスごとのポリシー。
	policies map[Class]Policy
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Option はLimiterの設定を変更する関数。
type Option func(*Limiter)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New は新しいLimiterを生成する。
// policiesに含まれないクラスは常に許可される。
func New(store Store, policies map[Class]Policy, opts ...Option) *Limiter {
	copied := make(map[Class]Policy, len(policies))
	for class, p := range policies {
		copied[class] = p
	}
	l := &Limiter{
		store:    store,
		policies: copied,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit はクライアントキーとルートクラスの組に対してリクエストを許可するか判定する。
// Storeがエラーを返した場合は、判定結果を Allowed=true としたうえでエラーも返す。
// 呼び出し側はエラーをログに残し、リクエストは通す（fail open）。
func (l *Limiter) Admit(ctx context.Context, clientKey string, class Class) (Decision, error) {
	policy, ok := l.policies[class]
	if !ok || policy.Limit <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	w, err := l.store.Increment(ctx, windowKey(clientKey, class), policy.Window, now)
	if err != nil {
		return Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit},
			fmt.Errorf("レート制限カウンタの更新に失敗: %w", err)
	}

	remaining := policy.Limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := w.Start.Add(policy.Window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	return Decision{
		Allowed:    w.Count <= policy.Limit,
		Limit:      policy.Limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}

// Policy はクラスに設定されたポリシーを返す。
func (l *Limiter) Policy(class Class) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// windowKey はクライアントキーとクラスからストアのキーを組み立てる。
func windowKey(clientKey string, class Class) string {
	return "ratelimit:" + string(class) + ":" + clientKey
}
