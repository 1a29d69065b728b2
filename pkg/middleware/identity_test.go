package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
)

// TestIdentity はIDヘッダーからのPrincipal構築を検証する。
func TestIdentity(t *testing.T) {
	t.Parallel()

	trusted := map[string]string{"X-Gateway-Access": "enabled"}
	withTrust := func(h map[string]string) map[string]string {
		merged := map[string]string{"X-Gateway-Access": "enabled"}
		for k, v := range h {
			merged[k] = v
		}
		return merged
	}

	tests := []struct {
		name    string
		headers map[string]string
		want    *authn.Principal
	}{
		{
			name: "3つのIDヘッダーが揃っていればPrincipalが設定されること",
			headers: withTrust(map[string]string{
				authn.HeaderAuthenticatedUser: "alice",
				authn.HeaderUserID:            "42",
				authn.HeaderUserRole:          authn.RoleAdmin,
			}),
			want: &authn.Principal{Username: "alice", UserID: 42, Role: authn.RoleAdmin},
		},
		{
			name:    "IDヘッダーが無ければ匿名になること",
			headers: trusted,
		},
		{
			name: "ロールが欠けていれば匿名になること",
			headers: withTrust(map[string]string{
				authn.HeaderAuthenticatedUser: "alice",
				authn.HeaderUserID:            "42",
			}),
		},
		{
			name: "ユーザーIDが整数でなければ匿名になること",
			headers: withTrust(map[string]string{
				authn.HeaderAuthenticatedUser: "alice",
				authn.HeaderUserID:            "forty-two",
				authn.HeaderUserRole:          authn.RoleAdmin,
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got *authn.Principal
			var fromCtx *authn.Principal
			router := setupServiceRouter(t, func(c *gin.Context) {
				got, _ = GetPrincipal(c)
				fromCtx, _ = authn.PrincipalFrom(c.Request.Context())
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
			}
			if tt.want == nil {
				if got != nil || fromCtx != nil {
					t.Errorf("匿名であるべきだがPrincipalが設定された: %+v", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("Principal = %+v, want %+v", got, tt.want)
			}
			if fromCtx == nil || *fromCtx != *tt.want {
				t.Errorf("context.ContextのPrincipal = %+v, want %+v", fromCtx, tt.want)
			}
		})
	}

	t.Run("許可リストのパスでも信頼マーカーが無ければIDヘッダーを無視すること", func(t *testing.T) {
		t.Parallel()

		logger := logging.Discard()
		router := gin.New()
		router.Use(GatewayTrust(authn.DefaultTrustMarker(), authn.ServiceAllowList("inventory-service"), logger), Identity(logger))
		var got *authn.Principal
		router.GET("/health", func(c *gin.Context) {
			got, _ = GetPrincipal(c)
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(authn.HeaderAuthenticatedUser, "mallory")
		req.Header.Set(authn.HeaderUserID, "1")
		req.Header.Set(authn.HeaderUserRole, authn.RoleSuperAdmin)
		router.ServeHTTP(httptest.NewRecorder(), req)

		if got != nil {
			t.Errorf("Principalが設定されるべきではない: %+v", got)
		}
	})
}

// TestRequireRole はサービス側のロール制御を検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		role       string
		anonymous  bool
		wantStatus int
	}{
		{name: "許可ロールは通過すること", role: authn.RoleSuperAdmin, wantStatus: http.StatusOK},
		{name: "許可されないロールは403になること", role: authn.RoleAdmin, wantStatus: http.StatusForbidden},
		{name: "匿名は401になること", anonymous: true, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger := logging.Discard()
			router := gin.New()
			router.Use(GatewayTrust(authn.DefaultTrustMarker(), authn.AllowList{}, logger), Identity(logger))
			router.DELETE("/api/v1/users/:id", RequireRole(authn.RoleSuperAdmin), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/1", nil)
			req.Header.Set("X-Gateway-Access", "enabled")
			if !tt.anonymous {
				req.Header.Set(authn.HeaderAuthenticatedUser, "alice")
				req.Header.Set(authn.HeaderUserID, "7")
				req.Header.Set(authn.HeaderUserRole, tt.role)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
