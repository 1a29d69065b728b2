package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
)

// contextKeyPrincipal はPrincipalを格納するGinコンテキストのキー。
const contextKeyPrincipal = "principal"

// Identity はGatewayが注入したIDヘッダーからPrincipalを構築するGinミドルウェアを返す。
// GatewayTrustの後に適用する。信頼マーカーが確認できないリクエスト、
// ヘッダーが欠けている、またはユーザーIDが整数でないリクエストは匿名として扱う。
func Identity(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Request.Header
		username := h.Get(authn.HeaderAuthenticatedUser)
		rawID := h.Get(authn.HeaderUserID)
		role := h.Get(authn.HeaderUserRole)

		if username == "" && rawID == "" && role == "" {
			c.Next()
			return
		}

		log := logging.FromContext(c.Request.Context(), logger)
		if !isTrusted(c) {
			log.Warn("信頼マーカーの無いIDヘッダーを無視", "path", c.Request.URL.Path)
			c.Next()
			return
		}
		if username == "" || rawID == "" || role == "" {
			log.Warn("不完全なIDヘッダーを無視",
				"path", c.Request.URL.Path,
				"has_user", username != "",
				"has_user_id", rawID != "",
				"has_role", role != "",
			)
			c.Next()
			return
		}
		userID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			log.Warn("整数でないユーザーIDヘッダーを無視", "path", c.Request.URL.Path, "user_id", rawID)
			c.Next()
			return
		}

		p := &authn.Principal{Username: username, UserID: userID, Role: role}
		c.Set(contextKeyPrincipal, p)
		c.Request = c.Request.WithContext(authn.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// GetPrincipal はGinコンテキストからPrincipalを取得する。
// Identityミドルウェアが事前に適用されている必要がある。
func GetPrincipal(c *gin.Context) (*authn.Principal, bool) {
	v, ok := c.Get(contextKeyPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*authn.Principal)
	return p, ok && p != nil
}

// RequireRole は指定ロールのいずれかを持つPrincipalだけを通すGinミドルウェアを返す。
// 匿名リクエストには401、ロールが一致しない場合は403を返す。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !p.HasAnyRole(roles...) {
			AbortAuth(c, authn.KindInsufficientPrivilege)
			return
		}
		c.Next()
	}
}

// RequireAuthenticated はPrincipalが無いリクエストに401を返すGinミドルウェアを返す。
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}
