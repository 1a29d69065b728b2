package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/logging"
)

// route はパスのプレフィックスと転送先の対応。
type route struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// Proxy はパスのプレフィックスで転送先のサービスを選ぶリバースプロキシ。
type Proxy struct {
	// routes はプレフィックスの長い順に並んでいる。
	routes []route
	logger *slog.Logger
}

// routeTable はプレフィックスと転送先サービスの対応表を返す。
func routeTable(u Upstreams) map[string]string {
	return map[string]string{
		"/api/v1/auth":          u.User,
		"/api/v1/users":         u.User,
		"/user-service":         u.User,
		"/api/v1/inventory":     u.Inventory,
		"/inventory-service":    u.Inventory,
		"/api/v1/transactions":  u.Transaction,
		"/transaction-service":  u.Transaction,
		"/api/v1/notifications": u.Notification,
		"/notification-service": u.Notification,
	}
}

// NewProxy は転送先のURLからProxyを生成する。
func NewProxy(upstreams Upstreams, logger *slog.Logger) (*Proxy, error) {
	p := &Proxy{logger: logging.WithComponent(logger, "proxy")}

	for prefix, raw := range routeTable(upstreams) {
		target, err := parseUpstream(raw)
		if err != nil {
			return nil, fmt.Errorf("転送先のURLが不正です: prefix=%s: %w", prefix, err)
		}
		p.routes = append(p.routes, route{prefix: prefix, proxy: p.newReverseProxy(target)})
	}
	sort.Slice(p.routes, func(i, j int) bool {
		return len(p.routes[i].prefix) > len(p.routes[j].prefix)
	})
	return p, nil
}

func parseUpstream(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("URLが空です")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("http(s)のURLを指定してください: %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("ホストがありません: %q", raw)
	}
	return u, nil
}

// newReverseProxy は転送先ごとのReverseProxyを生成する。
// 認証フィルターが書き換えたヘッダーはそのまま転送される。
func (p *Proxy) newReverseProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.FromContext(r.Context(), p.logger).Error("内部サービスとの通信に失敗",
				"upstream", target.Host,
				"path", r.URL.Path,
				"error", err.Error(),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"内部サービスとの通信に失敗しました"}`))
		},
	}
}

// match はパスに対応する転送先を返す。
func (p *Proxy) match(path string) (*httputil.ReverseProxy, bool) {
	for _, r := range p.routes {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r.proxy, true
		}
	}
	return nil, false
}

// Handler はリクエストを内部サービスに転送するハンドラーを返す。
// 認証フィルターの後に置く。
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rp, ok := p.match(c.Request.URL.Path)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		rp.ServeHTTP(c.Writer, c.Request)
	}
}
