package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/pkg/ratelimit"
)

var (
	// ErrRouteNotFound はどのルートにも一致しなかったことを表す。
	ErrRouteNotFound = errors.New("ルートが見つかりません")
	// ErrMethodNotAllowed は一致したルートがメソッドを許可していないことを表す。
	ErrMethodNotAllowed = errors.New("許可されていないメソッドです")
)

// proxiedMethods はバックエンドへ転送するルートで許可するメソッド。
var proxiedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// RouteRule はパスの接頭辞と転送先バックエンドの対応。
type RouteRule struct {
	// Name はルートの名前（メトリクスとログに使用）。
	Name string
	// Prefix はパスの接頭辞（例: "/auth"）。セグメント単位で一致させる。
	Prefix string
	// BaseURL は転送先バックエンドのベースURL。
	BaseURL string
	// Class は適用するレート制限のクラス。
	Class ratelimit.Class
	// Methods は許可するメソッド。
	Methods map[string]bool
	// RequireRest は接頭辞の後ろに空でないパスを必須とするかどうか。
	RequireRest bool
	// BackendPath は接頭辞を除いた残りのパスからバックエンド上のパスを組み立てる。
	BackendPath func(rest string) string
}

// allows はメソッドが許可されているかどうかを返す。
func (r *RouteRule) allows(method string) bool {
	return r.Methods[method]
}

// Match はルートの一致結果。
type Match struct {
	// Rule は一致したルート。
	Rule *RouteRule
	// BackendPath はバックエンド上の相対パス（先頭の "/" を含まない）。
	BackendPath string
}

// RouteTable は先頭から順に評価するルートの表。起動後は変更しない。
type RouteTable struct {
	rules []*RouteRule
}

// NewRouteTable はルールから表を生成する。
func NewRouteTable(rules ...*RouteRule) *RouteTable {
	return &RouteTable{rules: rules}
}

// DefaultRouteTable は設定されたバックエンドURLから標準のルート表を生成する。
//
//	/auth/<rest>                   → authバックエンドの <rest>（厳しいレート制限）
//	/user/<rest>                   → userバックエンドの <rest>
//	/tasks, /tasks/, /tasks/<rest> → taskバックエンドの tasks または tasks/<rest>
func DefaultRouteTable(cfg *config.Config) *RouteTable {
	methods := methodSet(proxiedMethods...)
	passThrough := func(rest string) string { return rest }

	return NewRouteTable(
		&RouteRule{
			Name:        "auth",
			Prefix:      "/auth",
			BaseURL:     cfg.AuthServiceURL,
			Class:       ratelimit.ClassAuth,
			Methods:     methods,
			RequireRest: true,
			BackendPath: passThrough,
		},
		&RouteRule{
			Name:        "user",
			Prefix:      "/user",
			BaseURL:     cfg.UserServiceURL,
			Class:       ratelimit.ClassDefault,
			Methods:     methods,
			RequireRest: true,
			BackendPath: passThrough,
		},
		&RouteRule{
			Name:    "tasks",
			Prefix:  "/tasks",
			BaseURL: cfg.TaskServiceURL,
			Class:   ratelimit.ClassDefault,
			Methods: methods,
			BackendPath: func(rest string) string {
				if rest == "" {
					return "tasks"
				}
				return "tasks/" + rest
			},
		},
	)
}

// Lookup はパスとメソッドに一致するルートを返す。
// 一致するルートが無い場合は ErrRouteNotFound、メソッドが許可されていない場合は
// 一致したルートとともに ErrMethodNotAllowed を返す。
func (t *RouteTable) Lookup(method, path string) (Match, error) {
	for _, rule := range t.rules {
		rest, ok := cutPrefixSegment(path, rule.Prefix)
		if !ok {
			continue
		}
		if rule.RequireRest && rest == "" {
			continue
		}

		m := Match{Rule: rule, BackendPath: rule.BackendPath(rest)}
		if !rule.allows(method) {
			return m, ErrMethodNotAllowed
		}
		return m, nil
	}
	return Match{}, ErrRouteNotFound
}

// cutPrefixSegment はpathがprefixそのもの、または prefix + "/" で始まる場合に残りを返す。
// 残りの先頭の "/" は取り除く。"/tasksx" のようにセグメントの途中で一致する場合は一致としない。
func cutPrefixSegment(path, prefix string) (string, bool) {
	if path == prefix {
		return "", true
	}
	rest, ok := strings.CutPrefix(path, prefix+"/")
	if !ok {
		return "", false
	}
	return rest, true
}

// methodSet はメソッドの集合を生成する。
func methodSet(methods ...string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}
