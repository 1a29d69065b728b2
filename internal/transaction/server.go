package transaction

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/httpclient"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/middleware"
)

// defaultPageSize は一覧取得のデフォルト件数。
const defaultPageSize = 10

// maxPage は一覧取得で指定できるページ番号の上限。オフセットの桁あふれを防ぐ。
const maxPage = 100000

// Server は取引サービスのHTTPサーバー。
type Server struct {
	router  *gin.Engine
	port    string
	db      *sql.DB
	service *Service
	logger  *slog.Logger
}

// NewServer は新しい取引サーバーを生成する。
func NewServer(port string, db *sql.DB, service *Service, trust authn.TrustMarker, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.GatewayTrust(trust, authn.ServiceAllowList(serviceName), logger))
	router.Use(middleware.Identity(logger))

	s := &Server{
		router:  router,
		port:    port,
		db:      db,
		service: service,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1/transactions")
	api.Use(middleware.RequireRole(authn.RoleAdmin, authn.RoleSuperAdmin))
	{
		api.POST("", s.handleCreate())
		api.GET("", s.handleList())
		api.GET("/:id", s.handleGet())
	}

	s.router.GET("/health", s.handleHealth())
}

// transactionResponse は取引のJSONレスポンス構造。
type transactionResponse struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	TotalAmount int64  `json:"total_amount"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionResponse(t Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		ProductID:   t.ProductID,
		ProductName: t.ProductName,
		Price:       t.Price,
		Quantity:    t.Quantity,
		TotalAmount: t.TotalAmount,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
}

// createRequest は取引作成リクエストのJSON構造。
type createRequest struct {
	ProductID int64 `json:"product_id" binding:"required,min=1"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// handleCreate は取引を作成するハンドラ。
// 商品情報の取得には呼び出し元のX-Session-Idを使ってGatewayを経由する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		p, _ := middleware.GetPrincipal(c)
		ctx := httpclient.WithSessionID(c.Request.Context(), c.GetHeader(authn.HeaderSessionID))

		t, err := s.service.Create(ctx, p, req.ProductID, req.Quantity)
		switch {
		case errors.Is(err, ErrProductNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": ErrProductNotFound.Error()})
			return
		case errors.Is(err, ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrAmountOverflow):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrCatalogDenied):
			logging.FromContext(ctx, s.logger).Warn("商品情報の取得が拒否された", "product_id", req.ProductID, "error", err.Error())
			c.JSON(http.StatusForbidden, gin.H{"error": ErrCatalogDenied.Error()})
			return
		case err != nil:
			logging.LogError(logging.FromContext(ctx, s.logger), "取引の作成に失敗", err, "product_id", req.ProductID)
			c.JSON(http.StatusBadGateway, gin.H{"error": "取引の作成に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, toTransactionResponse(*t))
	}
}

// handleList は呼び出し元の取引一覧を返すハンドラ。product_nameで部分一致の絞り込みができる。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := queryInt(c, "page", 0)
		if err != nil || page < 0 || page > maxPage {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pageが不正です"})
			return
		}
		size, err := queryInt(c, "size", defaultPageSize)
		if err != nil || size <= 0 || size > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sizeが不正です"})
			return
		}

		p, _ := middleware.GetPrincipal(c)
		txs, total, err := s.service.List(c.Request.Context(), p, ListFilter{
			ProductName: c.Query("product_name"),
			Limit:       size,
			Offset:      page * size,
		})
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "取引一覧の取得に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "取引一覧の取得に失敗しました"})
			return
		}

		data := make([]transactionResponse, 0, len(txs))
		for _, t := range txs {
			data = append(data, toTransactionResponse(t))
		}
		c.JSON(http.StatusOK, gin.H{"data": data, "total": total, "page": page, "size": size})
	}
}

// handleGet は指定された取引を返すハンドラ。他のユーザーの取引は404として扱う。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "IDが不正です"})
			return
		}

		p, _ := middleware.GetPrincipal(c)
		t, err := s.service.Get(c.Request.Context(), p, id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "取引の取得に失敗", err, "transaction_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "取引の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toTransactionResponse(*t))
	}
}

// handleHealth はヘルスチェックのハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": serviceName})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	}
}

func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}
