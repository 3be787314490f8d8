package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/telemetry"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/nao1215/edgegate/pkg/middleware"
	"github.com/nao1215/edgegate/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// maxBodyBytes は転送するリクエストボディの上限。
const maxBodyBytes = 10 << 20

// readyTimeout はレディネスチェックでのストア接続確認のタイムアウト。
const readyTimeout = 2 * time.Second

// Forwarder はバックエンドへリクエストを転送する。
type Forwarder interface {
	Forward(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Admitter はレート制限のアドミッション判定を行う。
type Admitter interface {
	Admit(ctx context.Context, clientKey string, class ratelimit.Class) (ratelimit.Decision, error)
}

// Recorder はテレメトリのエントリを記録する。呼び出し元をブロックしない実装を渡すこと。
type Recorder interface {
	Record(entry telemetry.LogEntry)
}

// StatsSource は統計を返す。
type StatsSource interface {
	Snapshot(ctx context.Context, limit int) (telemetry.Snapshot, error)
}

// Pinger は依存先への接続を確認する。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps はServerが使用するコンポーネント。
type Deps struct {
	// Logger はログの出力先。
	Logger zerolog.Logger
	// Routes はルート表。nilの場合は設定から標準のルート表を生成する。
	Routes *RouteTable
	// Limiter はレート制限。
	Limiter Admitter
	// Forwarder はバックエンドへの転送を行うクライアント。
	Forwarder Forwarder
	// Recorder はテレメトリの記録先。
	Recorder Recorder
	// Stats は統計の取得元。
	Stats StatsSource
	// Store はレディネスチェックで接続を確認するテレメトリストア。
	Store Pinger
	// Metrics はPrometheusメトリクス。nilの場合は専用のレジストリで生成する。
	Metrics *Metrics
}

// Server はエッジゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はグレースフルシャットダウンのためのHTTPサーバー。
	httpServer *http.Server
	// routes はルート表。
	routes *RouteTable
	// identity はベアラートークンから表示名を取り出す。
	identity *middleware.IdentityExtractor
	// limiter はレート制限。
	limiter Admitter
	// forwarder はバックエンドへの転送を行うクライアント。
	forwarder Forwarder
	// recorder はテレメトリの記録先。
	recorder Recorder
	// stats は統計の取得元。
	stats StatsSource
	// store はレディネスチェックの対象。
	store Pinger
	// metrics はPrometheusメトリクス。
	metrics *Metrics
	// logger はログの出力先。
	logger zerolog.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Limiter == nil || deps.Forwarder == nil || deps.Recorder == nil || deps.Stats == nil || deps.Store == nil {
		return nil, errors.New("Gatewayサーバーの依存コンポーネントが不足しています")
	}

	routes := deps.Routes
	if routes == nil {
		routes = DefaultRouteTable(cfg)
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}

	s := &Server{
		router:    router,
		routes:    routes,
		identity:  middleware.NewIdentityExtractor(cfg.JWTSecret),
		limiter:   deps.Limiter,
		forwarder: deps.Forwarder,
		recorder:  deps.Recorder,
		stats:     deps.Stats,
		store:     deps.Store,
		metrics:   metrics,
		logger:    deps.Logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.BackendTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.setupRoutes(cfg.CORSAllowedOrigins)

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。Shutdownで停止した場合はnilを返す。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は新しい接続の受け付けを止め、処理中のリクエストの完了を待つ。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes はミドルウェアとルーティングを設定する。
// ゲートウェイ自身のエンドポイント以外はすべてNoRouteでルート表に従って転送する。
func (s *Server) setupRoutes(allowedOrigins []string) {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(s.metrics.middleware())
	s.router.Use(s.recordTelemetry())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.CORS(allowedOrigins))

	// 統計（/api/logs/stats は旧ダッシュボード向けの別名）
	s.router.GET("/gateway/stats", s.handleStats())
	s.router.GET("/api/logs/stats", s.handleStats())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/health/ready", s.handleReady())
	s.router.GET("/metrics", s.metrics.handler())

	s.router.NoRoute(s.handleDispatch())
	s.router.NoMethod(func(c *gin.Context) {
		abortWithError(c, errMethodNotAllowed())
	})
}

// recordTelemetry はレスポンスの確定後にテレメトリのエントリを1件記録するミドルウェアを返す。
// ベアラートークンの表示名はここでのみ取り出し、リクエストの可否には使わない。
func (s *Server) recordTelemetry() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !recordable(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		user := s.identity.Extract(c.GetHeader("Authorization")).DisplayName()
		c.Set(middleware.ContextKeyUser, user)

		s.recorder.Record(telemetry.NewEntry(
			c.Request.Method,
			fullPath(c),
			c.Writer.Status(),
			duration,
			user,
			time.Now(),
		))
	}
}

// recordable はテレメトリに記録するパスかどうかを返す。監視用のエンドポイントは記録しない。
func recordable(path string) bool {
	return path != "/metrics" && path != "/health" && !strings.HasPrefix(path, "/health/")
}

// fullPath はクエリ文字列を含むリクエストパスを返す。
func fullPath(c *gin.Context) string {
	if c.Request.URL.RawQuery == "" {
		return c.Request.URL.Path
	}
	return c.Request.URL.Path + "?" + c.Request.URL.RawQuery
}

// handleDispatch はルート表に従ってバックエンドへ転送するハンドラを返す。
func (s *Server) handleDispatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		match, err := s.routes.Lookup(c.Request.Method, c.Request.URL.EscapedPath())
		switch {
		case errors.Is(err, ErrRouteNotFound):
			abortWithError(c, errRouteNotFound())
			return
		case errors.Is(err, ErrMethodNotAllowed):
			c.Set(middleware.ContextKeyRoute, match.Rule.Name)
			c.Header("Allow", allowHeader(match.Rule))
			abortWithError(c, errMethodNotAllowed())
			return
		}

		rule := match.Rule
		c.Set(middleware.ContextKeyRoute, rule.Name)

		if !s.admit(c, rule.Class) {
			return
		}

		body, gerr := s.readBody(c)
		if gerr != nil {
			abortWithError(c, gerr)
			return
		}

		start := time.Now()
		resp, err := s.forwarder.Forward(c.Request.Context(), httpclient.Request{
			Method:   c.Request.Method,
			BaseURL:  rule.BaseURL,
			Path:     match.BackendPath,
			RawQuery: c.Request.URL.RawQuery,
			Header:   c.Request.Header,
			Body:     body,
		})
		s.metrics.upstreamDuration.WithLabelValues(rule.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.upstreamErrors.WithLabelValues(rule.Name, upstreamErrorKind(err)).Inc()
			s.logger.Error().Err(err).
				Str("request_id", middleware.GetRequestID(c)).
				Str("backend", rule.Name).
				Str("backend_path", match.BackendPath).
				Msg("バックエンドとの通信に失敗")
			abortWithError(c, classifyForwardError(err))
			return
		}

		writeBackendResponse(c, resp)
	}
}

// admit はレート制限を判定し、拒否した場合は429を書き込んでfalseを返す。
// レート制限のストアが失敗した場合は警告を出してリクエストを通す。
func (s *Server) admit(c *gin.Context, class ratelimit.Class) bool {
	decision, err := s.limiter.Admit(c.Request.Context(), c.ClientIP(), class)
	if err != nil {
		s.metrics.rateLimitErrors.Inc()
		s.logger.Warn().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Str("class", string(class)).
			Msg("レート制限を判定できないためリクエストを許可します")
	}

	if decision.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if decision.Allowed {
		return true
	}

	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(decision.ResetAfter)))
	s.metrics.rateLimited.WithLabelValues(string(class)).Inc()
	abortWithError(c, errRateLimited())
	return false
}

// retryAfterSeconds はウィンドウのリセットまでの時間を切り上げた秒数で返す。最小は1秒。
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// readBody はPOST/PUT/PATCHのボディを読み込み、宣言されたContent-Typeに従って解釈する。
// それ以外のメソッドはボディを転送しない。
func (s *Server) readBody(c *gin.Context) (httpclient.Body, *GatewayError) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return httpclient.Body{Kind: httpclient.BodyNone}, nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httpclient.Body{}, errBodyTooLarge(err)
		}
		return httpclient.Body{}, &GatewayError{
			Status:  http.StatusBadRequest,
			Reason:  ReasonInvalidBody,
			Message: "リクエストボディを読み取れません",
			Err:     err,
		}
	}

	body, err := httpclient.ParseBody(c.GetHeader("Content-Type"), raw)
	if err != nil {
		return httpclient.Body{}, classifyBodyError(err)
	}
	return body, nil
}

// mergedHeaders はゲートウェイとバックエンドの両方が設定し得るリスト形式のヘッダー。
// 値を結合して返す。
var mergedHeaders = map[string]bool{
	"Vary": true,
}

// writeBackendResponse はバックエンドのステータス・ヘッダー・ボディをそのまま書き込む。
// ゲートウェイが設定済みのヘッダー（X-Request-ID、CORS等）はバックエンドの値で上書きしない。
// Varyのようなリスト形式のヘッダーはバックエンドの値を追加する。
func writeBackendResponse(c *gin.Context, resp *httpclient.Response) {
	header := c.Writer.Header()
	for key, values := range resp.Header {
		existing, exists := header[key]
		switch {
		case !exists:
			header[key] = values
		case mergedHeaders[key]:
			header[key] = mergeListHeader(existing, values)
		}
	}

	c.Status(resp.StatusCode)
	if len(resp.Body) == 0 {
		c.Writer.WriteHeaderNow()
		return
	}
	_, _ = c.Writer.Write(resp.Body)
}

// mergeListHeader はカンマ区切りのヘッダー値を大文字小文字を区別せずに重複を除いて結合する。
func mergeListHeader(current, extra []string) []string {
	seen := make(map[string]bool)
	merged := make([]string, 0, len(current)+len(extra))
	for _, values := range [][]string{current, extra} {
		for _, v := range values {
			for _, token := range strings.Split(v, ",") {
				token = strings.TrimSpace(token)
				if token == "" || seen[strings.ToLower(token)] {
					continue
				}
				seen[strings.ToLower(token)] = true
				merged = append(merged, token)
			}
		}
	}
	return []string{strings.Join(merged, ", ")}
}

// allowHeader はAllowヘッダーの値を返す。
func allowHeader(rule *RouteRule) string {
	methods := make([]string, 0, len(rule.Methods))
	for m, ok := range rule.Methods {
		if ok {
			methods = append(methods, m)
		}
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}

// statsQuery は統計エンドポイントのクエリパラメータ。
type statsQuery struct {
	// Limit は読み込む直近のエントリ数。省略時は設定値を使う。
	Limit *int `form:"limit" binding:"omitempty,min=1,max=100000"`
}

// handleStats は直近のエントリの統計を返すハンドラを返す。
func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyRoute, "stats")

		var q statsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			abortWithError(c, &GatewayError{
				Status:  http.StatusBadRequest,
				Reason:  ReasonInvalidQuery,
				Message: "limitは1から100000までの整数で指定してください",
				Err:     err,
			})
			return
		}

		limit := 0
		if q.Limit != nil {
			limit = *q.Limit
		}
		snap, err := s.stats.Snapshot(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("統計の取得に失敗")
			abortWithError(c, &GatewayError{
				Status:  http.StatusServiceUnavailable,
				Reason:  ReasonStatsUnavailable,
				Message: "統計を取得できません",
				Err:     err,
			})
			return
		}

		c.JSON(http.StatusOK, snap)
	}
}

// handleReady はテレメトリストアへの接続を確認するハンドラを返す。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("テレメトリストアに接続できません")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "gateway"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": "gateway"})
	}
}
