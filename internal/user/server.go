package user

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
	"github.com/nao1215/smmsb/pkg/session"
)

// serviceName はドキュメント系パスのプレフィックスに使うサービス名。
const serviceName = "user-service"

// defaultPageSize は一覧取得のデフォルト件数。
const defaultPageSize = 10

// maxPage は一覧取得で指定できるページ番号の上限。オフセットの桁あふれを防ぐ。
const maxPage = 100000

// Server はユーザーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// users はusersテーブルへのクエリを実行する。
	users *Store
	// auth はログインとログアウトを行う。
	auth *Auth
	// logger はサーバー共通のロガー。
	logger *slog.Logger
}

// NewServer は新しいユーザーサーバーを生成する。
func NewServer(port string, db *sql.DB, auth *Auth, trust authn.TrustMarker, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.GatewayTrust(trust, authn.ServiceAllowList(serviceName), logger))
	router.Use(middleware.Identity(logger))

	s := &Server{
		router: router,
		port:   port,
		db:     db,
		users:  auth.users,
		auth:   auth,
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

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/api/v1/auth")
	{
		auth.POST("/login", s.handleLogin())
		auth.POST("/logout", middleware.RequireAuthenticated(), s.handleLogout())
	}

	users := s.router.Group("/api/v1/users")
	{
		// ユーザー名の存在確認（認証不要）
		users.GET("/exist", s.handleExists())

		read := middleware.RequireRole(authn.RoleAdmin, authn.RoleSuperAdmin)
		users.GET("", read, s.handleList())
		users.GET("/:id", read, s.handleGet())

		write := middleware.RequireRole(authn.RoleSuperAdmin)
		users.POST("", write, s.handleCreate())
		users.PUT("/:id", write, s.handleUpdate())
		users.DELETE("/:id", write, s.handleDelete())
	}

	s.router.GET("/health", s.handleHealth())
}

// userResponse はユーザーのJSONレスポンス構造。パスワードハッシュは含めない。
type userResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toUserResponse(u User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.Format(time.RFC3339),
	}
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin はログインを行い、セッションIDを返すハンドラ。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		log := logging.FromContext(c.Request.Context(), s.logger)
		result, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			log.Warn("ログインに失敗", "username", req.Username)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		case errors.Is(err, session.ErrUnavailable):
			logging.LogError(log, "セッションの作成に失敗", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "セッションストアに接続できません"})
			return
		case err != nil:
			logging.LogError(log, "ログイン処理に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログイン処理に失敗しました"})
			return
		}

		log.Info("ログインに成功", "username", result.Session.Username, "role", result.Session.Role)
		c.JSON(http.StatusOK, gin.H{
			"session_id": result.Session.ID,
			"username":   result.Session.Username,
			"role":       result.Session.Role,
			"expires_at": result.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// handleLogout は呼び出し元のセッションを削除するハンドラ。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.GetPrincipal(c)
		err := s.auth.Logout(c.Request.Context(), p, c.GetHeader(authn.HeaderSessionID))
		switch {
		case authn.KindOf(err) == authn.KindIdentityMismatch:
			c.JSON(http.StatusForbidden, gin.H{"error": "他のユーザーのセッションは削除できません"})
			return
		case err != nil:
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "ログアウト処理に失敗", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "セッションストアに接続できません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ログアウトしました"})
	}
}

// handleExists はユーザー名が登録済みかを返すハンドラ。
func (s *Server) handleExists() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Query("username")
		if username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usernameパラメータが必要です"})
			return
		}
		exists, err := s.users.ExistsByUsername(c.Request.Context(), username)
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "ユーザーの存在確認に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの存在確認に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "exists": exists})
	}
}

// handleList はユーザー一覧を返すハンドラ。username, email, roleで絞り込み、page, sizeでページングする。
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

		users, total, err := s.users.List(c.Request.Context(), ListFilter{
			Username: c.Query("username"),
			Email:    c.Query("email"),
			Role:     c.Query("role"),
			Limit:    size,
			Offset:   page * size,
		})
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "ユーザー一覧の取得に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー一覧の取得に失敗しました"})
			return
		}

		data := make([]userResponse, 0, len(users))
		for _, u := range users {
			data = append(data, toUserResponse(u))
		}
		c.JSON(http.StatusOK, gin.H{"data": data, "total": total, "page": page, "size": size})
	}
}

// handleGet は指定されたユーザーを返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		u, err := s.users.GetByID(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "ユーザーの取得に失敗", err, "user_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toUserResponse(*u))
	}
}

// createRequest はユーザー作成リクエストのJSON構造。
type createRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"required,email"`
	Role     string `json:"role" binding:"required"`
}

// handleCreate はユーザーを作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !ValidRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不明なロールです: %s", req.Role)})
			return
		}

		hash, err := s.auth.HashPassword(req.Password)
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "パスワードのハッシュ化に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			return
		}

		u, err := s.users.Create(c.Request.Context(), CreateParams{
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: hash,
			Role:         req.Role,
		})
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(logging.FromContext(c.Request.Context(), s.logger), "ユーザーの作成に失敗", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, toUserResponse(*u))
	}
}

// updateRequest はユーザー更新リクエストのJSON構造。省略したフィールドは変更しない。
type updateRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password" binding:"omitempty,min=8"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Role     *string `json:"role"`
}

// handleUpdate はユーザーを更新するハンドラ。
// ユーザー名・パスワード・ロールを変更した場合は既存のセッションを削除する。
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
		if req.Role != nil && !ValidRole(*req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不明なロールです: %s", *req.Role)})
			return
		}

		log := logging.FromContext(c.Request.Context(), s.logger)
		before, err := s.users.GetByID(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(log, "ユーザーの取得に失敗", err, "user_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの更新に失敗しました"})
			return
		}

		params := UpdateParams{Username: req.Username, Email: req.Email, Role: req.Role}
		if req.Password != nil {
			hash, err := s.auth.HashPassword(*req.Password)
			if err != nil {
				logging.LogError(log, "パスワードのハッシュ化に失敗", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの更新に失敗しました"})
				return
			}
			params.PasswordHash = &hash
		}

		u, err := s.users.Update(c.Request.Context(), id, params)
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			logging.LogError(log, "ユーザーの更新に失敗", err, "user_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの更新に失敗しました"})
			return
		}

		if u.Username != before.Username || u.Role != before.Role || req.Password != nil {
			if err := s.auth.RevokeUser(c.Request.Context(), before.Username); err != nil {
				logging.LogError(log, "セッションの削除に失敗", err, "username", before.Username)
			}
		}
		c.JSON(http.StatusOK, toUserResponse(*u))
	}
}

// handleDelete はユーザーを削除するハンドラ。自分自身は削除できない。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		p, _ := middleware.GetPrincipal(c)
		if p.UserID == id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "自分自身は削除できません"})
			return
		}

		log := logging.FromContext(c.Request.Context(), s.logger)
		u, err := s.users.GetByID(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logging.LogError(log, "ユーザーの取得に失敗", err, "user_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの削除に失敗しました"})
			return
		}
		if err := s.users.Delete(c.Request.Context(), id); err != nil {
			logging.LogError(log, "ユーザーの削除に失敗", err, "user_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの削除に失敗しました"})
			return
		}
		if err := s.auth.RevokeUser(c.Request.Context(), u.Username); err != nil {
			logging.LogError(log, "セッションの削除に失敗", err, "username", u.Username)
		}
		c.JSON(http.StatusOK, gin.H{"message": "ユーザーを削除しました"})
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

// paramID はパスパラメータidを数値として取り出す。不正な場合は400を返してfalseを返す。
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
