package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
)

// contextKeyTrusted は信頼マーカーの検証に成功したことを示すGinコンテキストのキー。
const contextKeyTrusted = "gateway_trusted"

// AbortAuth は認証エラーの種類に応じたステータスと汎用メッセージでリクエストを中断する。
func AbortAuth(c *gin.Context, kind authn.Kind) {
	c.AbortWithStatusJSON(kind.Status(), gin.H{"error": kind.Message()})
}

// GatewayTrust はGateway経由のリクエストだけを受け付けるGinミドルウェアを返す。
// 許可リストに含まれるパス（ヘルスチェックやドキュメント）以外は、信頼マーカーが
// 期待値と一致しなければ403を返す。セッションやトークンは扱わない。
func GatewayTrust(marker authn.TrustMarker, allow authn.AllowList, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if marker.Present(c.Request.Header) {
			c.Set(contextKeyTrusted, true)
			c.Next()
			return
		}

		if allow.Allows(c.Request.URL.Path) {
			c.Next()
			return
		}

		logging.FromContext(c.Request.Context(), logger).Warn("Gatewayを経由しないリクエストを拒否",
			"kind", authn.KindTrustViolation.String(),
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
		)
		AbortAuth(c, authn.KindTrustViolation)
	}
}

// isTrusted はGatewayTrustが信頼マーカーを確認済みかを返す。
func isTrusted(c *gin.Context) bool {
	return c.GetBool(contextKeyTrusted)
}
