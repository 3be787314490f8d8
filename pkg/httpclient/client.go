package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout はバックエンド呼び出しのデフォルトのタイムアウト。
const DefaultTimeout = 10 * time.Second

// ErrCircuitOpen はバックエンドのサーキットブレーカーが開いているため呼び出さなかったことを表す。
var ErrCircuitOpen = errors.New("バックエンドのサーキットが開いています")

// BackendError はバックエンドとの通信に失敗したことを表す。
// タイムアウト、接続拒否、名前解決失敗、接続リセット等をすべてこのエラーにまとめる。
type BackendError struct {
	// Target は呼び出し先のベースURL。
	Target string
	// Err は通信時のエラー。
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("バックエンド %s との通信に失敗: %v", e.Target, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Timeout はタイムアウトによる失敗かどうかを返す。
func (e *BackendError) Timeout() bool {
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Request はバックエンドへ転送するリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// BaseURL は転送先バックエンドのベースURL。
	BaseURL string
	// Path はベースURLからの相対パス（先頭の "/" は不要）。
	Path string
	// RawQuery はクエリ文字列（"?" を含まない）。
	RawQuery string
	// Header はクライアントから受け取ったヘッダー。
	Header http.Header
	// Body は転送するボディ。
	Body Body
}

// URL は転送先の完全なURLを返す。
func (r Request) URL() string {
	u := strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if r.RawQuery != "" {
		u += "?" + r.RawQuery
	}
	return u
}

// Response はバックエンドから受け取ったレスポンス。
// ヘッダーはフィルタリング済みで、ボディは加工しない。
type Response struct {
	// StatusCode はバックエンドのステータスコード。
	StatusCode int
	// Header はOutbound方向にフィルタリングしたヘッダー。
	Header http.Header
	// Body は生のレスポンスボディ。
	Body []byte
}

// BreakerSettings はバックエンドごとのサーキットブレーカーの設定。
type BreakerSettings struct {
	// ConsecutiveFailures はサーキットを開く連続通信失敗回数。0以下で無効。
	ConsecutiveFailures uint32
	// Cooldown はサーキットが開いてから半開状態に移るまでの時間。
	Cooldown time.Duration
}

// Forwarder はバックエンドへのリクエスト転送を行うクライアント。
// 転送先ごとのコードパスを持たず、Requestのベースでのみ転送先を切り替える。
type Forwarder struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// breaker はサーキットブレーカーの設定。
	breaker BreakerSettings
	// mu はbreakersへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// breakers はベースURLごとのサーキットブレーカー。
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option はForwarderの設定を変更する関数。
type Option func(*Forwarder)

// WithTimeout はバックエンド呼び出しのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.httpClient.Timeout = d
		}
	}
}

// WithBreaker はバックエンドごとのサーキットブレーカーを有効にする。
func WithBreaker(s BreakerSettings) Option {
	return func(f *Forwarder) {
		f.breaker = s
	}
}

// WithTransport は内部で使用するRoundTripperを差し替える。OpenTelemetryの計装は維持される。
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.httpClient.Transport = otelhttp.NewTransport(rt)
	}
}

// New は新しいForwarderを生成する。
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
			// リダイレクトはクライアントにそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Timeout はバックエンド呼び出しのタイムアウトを返す。
func (f *Forwarder) Timeout() time.Duration {
	return f.httpClient.Timeout
}

// Forward はリクエストをバックエンドへ送信し、レスポンスを返す。
// 通信に失敗した場合は *BackendError を返す。リトライは行わない。
//
// クライアントが切断しても送信中の呼び出しはキャンセルせず、完了またはタイムアウトまで待つ。
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	cb := f.breakerFor(req.BaseURL)
	if cb == nil {
		return f.do(ctx, req)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		return f.do(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &BackendError{Target: req.BaseURL, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// do はHTTPリクエストを組み立てて1回だけ送信する。
func (f *Forwarder) do(ctx context.Context, req Request) (*Response, error) {
	payload, contentType := req.Body.encode()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), req.Method, req.URL(), bodyReader)
	if err != nil {
		return nil, &BackendError{Target: req.BaseURL, Err: fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)}
	}

	httpReq.Header = FilterHeaders(req.Header, Inbound)
	httpReq.Header.Del("Content-Length")
	// 圧縮方式はトランスポートに交渉させ、透過的に展開したボディを返す
	httpReq.Header.Del("Accept-Encoding")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, &BackendError{Target: req.BaseURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Target: req.BaseURL, Err: fmt.Errorf("レスポンスの読み取りに失敗: %w", err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     FilterHeaders(resp.Header, Outbound),
		Body:       body,
	}, nil
}

// breakerFor はベースURLに対応するサーキットブレーカーを返す。無効な場合はnilを返す。
func (f *Forwarder) breakerFor(baseURL string) *gobreaker.CircuitBreaker {
	if f.breaker.ConsecutiveFailures == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[baseURL]; ok {
		return cb
	}
	threshold := f.breaker.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    baseURL,
		Timeout: f.breaker.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	})
	f.breakers[baseURL] = cb
	return cb
}
