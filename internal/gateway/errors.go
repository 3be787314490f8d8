package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// エラーレスポンスの "error" に設定する機械可読な理由。
const (
	ReasonRouteNotFound        = "route_not_found"
	ReasonMethodNotAllowed     = "method_not_allowed"
	ReasonInvalidBody          = "invalid_body"
	ReasonInvalidQuery         = "invalid_query"
	ReasonUnsupportedMediaType = "unsupported_media_type"
	ReasonRateLimitExceeded    = "rate_limit_exceeded"
	ReasonBackendUnavailable   = "backend_unavailable"
	ReasonStatsUnavailable     = "stats_unavailable"
	ReasonInternalError        = "internal_error"
)

// GatewayError はゲートウェイ自身が返すエラー。バックエンドのエラーレスポンスはそのまま転送するため含まない。
type GatewayError struct {
	// Status はHTTPステータスコード。
	Status int
	// Reason は機械可読な理由。
	Reason string
	// Message は利用者向けの説明。
	Message string
	// Detail はクライアントに返してよい補足情報。
	Detail string
	// Err はログにのみ出力する内部エラー。
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// errorResponse はエラーレスポンスのJSON構造。
type errorResponse struct {
	// Error は機械可読な理由。
	Error string `json:"error"`
	// Message は利用者向けの説明。
	Message string `json:"message"`
	// Detail は補足情報。
	Detail string `json:"detail,omitempty"`
	// RequestID はリクエストID。
	RequestID string `json:"request_id,omitempty"`
}

// abortWithError はエラーレスポンスを書き込み、後続のハンドラを中断する。
// 内部エラーは c.Error に積み、リクエストログに出力させる。
func abortWithError(c *gin.Context, gerr *GatewayError) {
	if gerr.Err != nil {
		_ = c.Error(gerr.Err)
	}
	c.AbortWithStatusJSON(gerr.Status, errorResponse{
		Error:     gerr.Reason,
		Message:   gerr.Message,
		Detail:    gerr.Detail,
		RequestID: middleware.GetRequestID(c),
	})
}

// errRouteNotFound はルートが見つからない場合のエラーを返す。
func errRouteNotFound() *GatewayError {
	return &GatewayError{
		Status:  http.StatusNotFound,
		Reason:  ReasonRouteNotFound,
		Message: "指定されたパスに対応するルートがありません",
	}
}

// errMethodNotAllowed はメソッドが許可されていない場合のエラーを返す。
func errMethodNotAllowed() *GatewayError {
	return &GatewayError{
		Status:  http.StatusMethodNotAllowed,
		Reason:  ReasonMethodNotAllowed,
		Message: "このパスでは許可されていないメソッドです",
	}
}

// errRateLimited はレート制限を超えた場合のエラーを返す。
func errRateLimited() *GatewayError {
	return &GatewayError{
		Status:  http.StatusTooManyRequests,
		Reason:  ReasonRateLimitExceeded,
		Message: "リクエストが多すぎます。しばらくしてから再試行してください",
	}
}

// errBodyTooLarge はボディが上限を超えた場合のエラーを返す。
func errBodyTooLarge(err error) *GatewayError {
	return &GatewayError{
		Status:  http.StatusBadRequest,
		Reason:  ReasonInvalidBody,
		Message: "リクエストボディを読み取れません",
		Detail:  "リクエストボディが大きすぎます",
		Err:     err,
	}
}

// classifyBodyError はボディの解釈エラーを400または415に対応付ける。
func classifyBodyError(err error) *GatewayError {
	var invalid *httpclient.InvalidBodyError
	switch {
	case errors.Is(err, httpclient.ErrUnsupportedMediaType):
		return &GatewayError{
			Status:  http.StatusUnsupportedMediaType,
			Reason:  ReasonUnsupportedMediaType,
			Message: "サポートされていないContent-Typeです",
			Detail:  "application/json, application/x-www-form-urlencoded, multipart/form-data のいずれかを指定してください",
			Err:     err,
		}
	case errors.As(err, &invalid):
		return &GatewayError{
			Status:  http.StatusBadRequest,
			Reason:  ReasonInvalidBody,
			Message: "リクエストボディを解析できません",
			Detail:  invalid.MediaType + " として解析できませんでした",
			Err:     err,
		}
	default:
		return errInternal(err)
	}
}

// classifyForwardError は転送時のエラーを502に対応付ける。通信の詳細はクライアントに返さない。
func classifyForwardError(err error) *GatewayError {
	var backendErr *httpclient.BackendError
	if !errors.As(err, &backendErr) {
		return errInternal(err)
	}

	message := "バックエンドサービスに接続できません"
	if backendErr.Timeout() {
		message = "バックエンドサービスが時間内に応答しませんでした"
	}
	return &GatewayError{
		Status:  http.StatusBadGateway,
		Reason:  ReasonBackendUnavailable,
		Message: message,
		Err:     err,
	}
}

// errInternal は想定外のエラーを500に対応付ける。
func errInternal(err error) *GatewayError {
	return &GatewayError{
		Status:  http.StatusInternalServerError,
		Reason:  ReasonInternalError,
		Message: "内部サーバーエラーが発生しました",
		Err:     err,
	}
}

// upstreamErrorKind はメトリクス用にエラーの種類を返す。
func upstreamErrorKind(err error) string {
	var backendErr *httpclient.BackendError
	switch {
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &backendErr) && backendErr.Timeout():
		return "timeout"
	default:
		return "unavailable"
	}
}
