package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ログに追加するフィールドを後段のハンドラから受け取るためのGinコンテキストのキー。
const (
	// ContextKeyRoute は一致したルートの名前。
	ContextKeyRoute = "route"
	// ContextKeyUser はベアラートークンから取り出した表示名。
	ContextKeyUser = "user"
)

// RequestLogger はリクエストの完了ごとに構造化ログを1件出力するGinミドルウェアを返す。
// gin.Logger() の置き換えとして使用する。5xxはerror、4xxはwarn、それ以外はinfoで出力する。
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if route := c.GetString(ContextKeyRoute); route != "" {
			event.Str("route", route)
		}
		if user := c.GetString(ContextKeyUser); user != "" {
			event.Str("user", user)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			event.Str("error", errs.String())
		}
		event.Msg("request completed")
	}
}
