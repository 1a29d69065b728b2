package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/logging"
)

// HeaderRequestID はリクエストIDを伝播するヘッダー名。
const HeaderRequestID = "X-Request-Id"

// RequestLogger はリクエストIDを付与したロガーをコンテキストに設定し、
// 処理完了後にアクセスログを出力するGinミドルウェアを返す。
// gin.Logger()の代わりに使用する。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, reqLogger := logging.WithRequestID(c.Request.Context(), logger, c.GetHeader(HeaderRequestID))
		c.Request = c.Request.WithContext(ctx)
		requestID := logging.GetRequestID(ctx)
		c.Request.Header.Set(HeaderRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= 500:
			reqLogger.Error("リクエスト処理完了", attrs...)
		case status >= 400:
			reqLogger.Warn("リクエスト処理完了", attrs...)
		default:
			reqLogger.Info("リクエスト処理完了", attrs...)
		}
	}
}
