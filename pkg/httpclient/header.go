package httpclient

import (
	"net/http"
	"strings"
)

// Direction はヘッダーのフィルタリング方向を表す。
type Direction int

const (
	// Inbound はクライアントからバックエンドへ転送するリクエストヘッダー。
	Inbound Direction = iota
	// Outbound はバックエンドからクライアントへ返すレスポンスヘッダー。
	Outbound
)

// inboundExcluded はリクエスト転送時に除去するヘッダー（小文字）。
var inboundExcluded = map[string]struct{}{
	"host": {},
}

// outboundExcluded はレスポンス返却時に除去するヘッダー（小文字）。
// gatewayはボディを自分で再フレーミングするため、元の接続のフレーミング情報は無効になる。
var outboundExcluded = map[string]struct{}{
	"content-length":      {},
	"transfer-encoding":   {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"trailers":            {},
	"upgrade":             {},
	"content-encoding":    {},
}

// FilterHeaders は方向に応じて除去対象のヘッダーを取り除いたコピーを返す。
// キーの比較は大文字小文字を区別しない。元のヘッダーは変更しない。
func FilterHeaders(h http.Header, dir Direction) http.Header {
	excluded := inboundExcluded
	if dir == Outbound {
		excluded = outboundExcluded
	}

	filtered := make(http.Header, len(h))
	for key, values := range h {
		if _, skip := excluded[strings.ToLower(key)]; skip {
			continue
		}
		filtered[http.CanonicalHeaderKey(key)] = append(filtered[http.CanonicalHeaderKey(key)], values...)
	}
	return filtered
}
