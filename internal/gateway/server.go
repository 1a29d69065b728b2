package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/middleware"
	"github.com/nao1215/smmsb/pkg/session"
	"github.com/nao1215/smmsb/pkg/token"
)

// pinger は疎通確認ができるセッションストア。
type pinger interface {
	Ping(ctx context.Context) error
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はセッションストア。参照のみ行う。
	store session.Reader
	// auth は認証フィルター。
	auth *Authenticator
	// proxy は内部サービスへの転送を行う。
	proxy *Proxy
	// metrics は認証メトリクス。
	metrics *Metrics
	// logger はサーバー共通のロガー。
	logger *slog.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, store session.Reader, logger *slog.Logger) (*Server, error) {
	verifier, err := token.NewVerifier(cfg.JWTKey, cfg.TokenLeeway)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	metrics := NewMetrics()
	auth, err := NewAuthenticator(AuthenticatorConfig{
		Store:         store,
		Verifier:      verifier,
		Policy:        cfg.Policy,
		Marker:        cfg.Trust,
		LookupTimeout: cfg.LookupTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("認証フィルターの生成に失敗: %w", err)
	}

	proxy, err := NewProxy(cfg.Upstreams, logger)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	s := &Server{
		router:  router,
		port:    cfg.Port,
		store:   store,
		auth:    auth,
		proxy:   proxy,
		metrics: metrics,
		logger:  logger,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はルーティングを設定する。
// Gateway自身が応答するパス以外はすべて認証フィルターを経由して転送する。
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(s.auth.Middleware(), s.proxy.Handler())
}

// handleHealth はヘルスチェックのハンドラーを返す。
// セッションストアに疎通できない場合は503を返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := s.store.(pinger); ok {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "セッションストアのヘルスチェックに失敗", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "gateway"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	}
}
