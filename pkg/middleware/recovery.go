package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック値はログにのみ出力し、クライアントにはスタックトレースを含まない500エラーを返す。
// レスポンスを書き始めた後のパニックではステータスを変更できないため、中断のみ行う。
func Recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			logger.Error().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("request_id", GetRequestID(c)).
				Bool("response_written", c.Writer.Written()).
				Interface("panic", r).
				Msg("パニックから回復しました")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal_error",
				"message":    "内部サーバーエラーが発生しました",
				"request_id": GetRequestID(c),
			})
		}()
		c.Next()
	}
}
