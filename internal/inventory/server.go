package inventory

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
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/middleware"
)

// defaultPageSize は一覧取得のデフォルト件数。
const defaultPageSize = 10

// maxPage は一覧取得で指定できるページ番号の上限。オフセットの桁あふれを防ぐ。
const maxPage = 100000

// Server は在庫サービスのHTTPサーバー。
type Server struct {
	router   *gin.Engine
	port     string
	db       *sql.DB
	products *Store
	stock    *Stock
	logger   *slog.Logger
}

// NewServer は新しい在庫サーバーを生成する。
func NewServer(port string, db *sql.DB, stock *Stock, trust authn.TrustMarker, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.GatewayTrust(trust, authn.ServiceAllowList(serviceName), logger))
	router.Use(middleware.Identity(logger))

	s := &Server{
		router:   router,
		port:     port,
		db:       db,
		products: stock.products,
		stock:    stock,
		logger:   logger,
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
	api := s.router.Group("/api/v1/inventory")
	api.Use(middleware.RequireRole(authn.RoleAdmin, authn.RoleSuperAdmin))
	{
		api.GET("", s.handleList())
		api.GET("/:id", s.handleGet())
		api.POST("", s.handleCreate())
		api.PUT("/:id", s.handleUpdate())
		api.DELETE("/:id", middleware.RequireRole(authn.RoleSuperAdmin), s.handleDelete())
	}

	s.router.GET("/health", s.handleHealth())
}

// productResponse は商品のJSONレスポンス構造。
type productResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	CreatedBy   int64  `json:"created_by"`
	IsLowStock  bool   `json:"is_low_stock"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Quantity:    p.Quantity,
		Price:       p.Price,
		CreatedBy:   p.CreatedBy,
		IsLowStock:  p.IsLowStock,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

// handleList は商品一覧を返すハンドラ。nameで部分一致、low_stock=trueで在庫不足の商品に絞り込む。
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

		products, total, err := s.products.List(c.Request.Context(), ListFilter{
			Name:         c.Query("name"),
			LowStockOnly: c.Query("low_stock") == "true",
			Limit:        size,
			Offset:       page * size,
		})
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "商品一覧の取得に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "商品一覧の取得に失敗しました"})
			return
		}

		data := make([]productResponse, 0, len(products))
		for _, p := range products {
			data = append(data, toProductResponse(p))
		}
		c.JSON(http.StatusOK, gin.H{"data": data, "total": total, "page": page, "size": size})
	}
}

// handleGet は指定された商品を返すハンドラ。取引サービスもGateway経由で呼び出す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		p, err := s.products.GetByID(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "商品の取得に失敗", err, "product_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "商品の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toProductResponse(*p))
	}
}

// createRequest は商品作成リクエストのJSON構造。
type createRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
	Price       int64  `json:"price" binding:"required,min=1"`
}

// handleCreate は商品を作成するハンドラ。登録者は呼び出し元のユーザーになる。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		principal, _ := middleware.GetPrincipal(c)
		p, err := s.products.Create(c.Request.Context(), CreateParams{
			Name:        req.Name,
			Description: req.Description,
			Quantity:    req.Quantity,
			Price:       req.Price,
			CreatedBy:   principal.UserID,
		}, s.stock.Threshold())
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "商品の作成に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "商品の作成に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, toProductResponse(*p))
	}
}

// updateRequest は商品更新リクエストのJSON構造。省略したフィールドは変更しない。
type updateRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1"`
	Description *string `json:"description"`
	Quantity    *int    `json:"quantity" binding:"omitempty,min=0"`
	Price       *int64  `json:"price" binding:"omitempty,min=1"`
}

// handleUpdate は商品を更新するハンドラ。在庫数を変更して在庫不足になった場合はアラートを発行する。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		p, err := s.stock.UpdateProduct(c.Request.Context(), id, UpdateParams{
			Name:        req.Name,
			Description: req.Description,
			Quantity:    req.Quantity,
			Price:       req.Price,
		})
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "商品の更新に失敗", err, "product_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "商品の更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toProductResponse(*p))
	}
}

// handleDelete は商品を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		err := s.products.Delete(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "商品の削除に失敗", err, "product_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "商品の削除に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "商品を削除しました"})
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

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IDが不正です"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}
