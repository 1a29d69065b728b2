package notification

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
const defaultPageSize = 20

// maxPage は一覧取得で指定できるページ番号の上限。オフセットの桁あふれを防ぐ。
const maxPage = 100000

// Server は通知サービスのHTTPサーバー。
type Server struct {
	router *gin.Engine
	port   string
	db     *sql.DB
	store  *Store
	logger *slog.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(port string, db *sql.DB, store *Store, trust authn.TrustMarker, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.GatewayTrust(trust, authn.ServiceAllowList(serviceName), logger))
	router.Use(middleware.Identity(logger))

	s := &Server{
		router: router,
		port:   port,
		db:     db,
		store:  store,
		logger: logger,
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
	api := s.router.Group("/api/v1/notifications")
	api.Use(middleware.RequireRole(authn.RoleAdmin, authn.RoleSuperAdmin))
	{
		api.GET("", s.handleList(false))
		api.GET("/unread", s.handleList(true))
		api.PUT("/read-all", s.handleMarkAllRead())
		api.GET("/:id", s.handleGet())
		api.PUT("/:id/read", s.handleMarkRead())
	}

	s.router.GET("/health", s.handleHealth())
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	ID        int64  `json:"id"`
	UserID    *int64 `json:"user_id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

func toNotificationResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

// handleList は呼び出し元の通知一覧を返すハンドラ。typeで通知の種類を絞り込める。
func (s *Server) handleList(unreadOnly bool) gin.HandlerFunc {
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
		notifications, total, err := s.store.List(c.Request.Context(), p.UserID, ListFilter{
			Type:       c.Query("type"),
			UnreadOnly: unreadOnly,
			Limit:      size,
			Offset:     page * size,
		})
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "通知一覧の取得に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		data := make([]notificationResponse, 0, len(notifications))
		for _, n := range notifications {
			data = append(data, toNotificationResponse(n))
		}
		c.JSON(http.StatusOK, gin.H{"data": data, "total": total, "page": page, "size": size})
	}
}

// handleGet は指定された通知を返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		p, _ := middleware.GetPrincipal(c)
		n, err := s.store.Get(c.Request.Context(), id, p.UserID)
		if s.writeStoreError(c, err, id) {
			return
		}
		c.JSON(http.StatusOK, toNotificationResponse(*n))
	}
}

// handleMarkRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		p, _ := middleware.GetPrincipal(c)
		err := s.store.MarkRead(c.Request.Context(), id, p.UserID)
		if s.writeStoreError(c, err, id) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllRead は呼び出し元に見える全通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.GetPrincipal(c)
		n, err := s.store.MarkAllRead(c.Request.Context(), p.UserID)
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "全通知の既読処理に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "全ての通知を既読にしました", "updated": n})
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

// writeStoreError はStoreのエラーをレスポンスに変換する。エラーを書き込んだ場合はtrueを返す。
func (s *Server) writeStoreError(c *gin.Context, err error, id int64) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "通知の処理に失敗", err, "notification_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の処理に失敗しました"})
	}
	return true
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
